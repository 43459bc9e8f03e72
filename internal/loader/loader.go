package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/strataform/strataform/pkg/core"
)

// Result is everything discovered in a models directory: the models
// themselves plus the distinct external sources they declare.
type Result struct {
	Models  []*core.Model
	Sources []*core.Source
}

// LoadDirectory walks dir recursively and loads every .sql file as a
// model. Files are processed in deterministic path order. A missing
// directory is an error; an empty one is not.
func LoadDirectory(dir string) (*Result, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sql") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk models directory %s: %w", dir, err)
	}
	sort.Strings(paths)

	result := &Result{}
	sources := make(map[string]*core.Source)

	for _, path := range paths {
		model, declared, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		result.Models = append(result.Models, model)
		for _, s := range declared {
			if _, ok := sources[s.Ref()]; !ok {
				sources[s.Ref()] = s
			}
		}
	}

	refs := make([]string, 0, len(sources))
	for ref := range sources {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		result.Sources = append(result.Sources, sources[ref])
	}
	return result, nil
}

// LoadFile parses one model file into a model plus the sources its
// frontmatter declares.
func LoadFile(path string) (*core.Model, []*core.Source, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}

	fm, err := ExtractFrontmatter(string(content))
	if err != nil {
		annotateFile(err, path)
		return nil, nil, err
	}
	if strings.TrimSpace(fm.SQL) == "" {
		return nil, nil, &FrontmatterParseError{File: path, Message: "model file has no SQL body"}
	}

	cfg := fm.Config
	cfg.ApplyDefaults(filepath.Base(path))

	var declared []*core.Source
	for _, ref := range cfg.Sources {
		declared = append(declared, parseSourceRef(ref))
	}

	references := make([]string, 0, len(cfg.Refs)+len(cfg.Sources))
	references = append(references, cfg.Refs...)
	references = append(references, cfg.Sources...)

	model := &core.Model{
		Name:            cfg.Name,
		Kind:            core.Kind(cfg.Materialized),
		Strategy:        core.Strategy(cfg.Strategy),
		UniqueKey:       cfg.UniqueKey,
		References:      references,
		WatermarkColumn: cfg.WatermarkColumn,
		Lookback:        cfg.Lookback,
		ClusterBy:       cfg.ClusterBy,
		Tags:            cfg.Tags,
		Assertions:      cfg.Assertions,
		Template:        CompileTemplate(fm.SQL),
	}
	return model, declared, nil
}

// CompileTemplate turns a SQL body into a query template. Two
// placeholders are substituted per run:
//
//	{{ watermark_filter }}  the planner's incremental predicate,
//	                        "1 = 1" on full builds
//	{{ this }}              the model's own target table
func CompileTemplate(sql string) core.QueryTemplate {
	return func(tc core.TemplateContext) string {
		out := strings.ReplaceAll(sql, "{{ watermark_filter }}", tc.WatermarkFilter)
		out = strings.ReplaceAll(out, "{{ this }}", tc.Target)
		return out
	}
}

// parseSourceRef splits "namespace.name" into a source; a bare name
// yields a source with no namespace.
func parseSourceRef(ref string) *core.Source {
	if i := strings.LastIndex(ref, "."); i > 0 {
		return &core.Source{Namespace: ref[:i], Name: ref[i+1:]}
	}
	return &core.Source{Name: ref}
}

// annotateFile attaches the originating file path to loader errors.
func annotateFile(err error, path string) {
	switch e := err.(type) {
	case *FrontmatterParseError:
		if e.File == "" {
			e.File = path
		}
	case *UnknownFieldError:
		if e.File == "" {
			e.File = path
		}
	}
}
