// Package loader discovers SQL model files on disk and turns them into
// registered models. A model file is a SQL query with an optional YAML
// frontmatter block declaring its materialization, dependencies, and
// assertions.
package loader

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strataform/strataform/pkg/core"
)

// FrontmatterConfig represents parsed YAML frontmatter.
// Unknown fields cause parse errors (use Meta for extensions).
type FrontmatterConfig struct {
	Name            string
	Description     string
	Materialized    string // table, view, incremental
	Strategy        string // replace, merge
	UniqueKey       []string
	WatermarkColumn string
	Lookback        time.Duration
	Refs            []string
	Sources         []string
	ClusterBy       []string
	Tags            []string
	Assertions      []core.AssertionConfig
	Owner           string
	Meta            map[string]any
}

// FrontmatterResult holds the result of frontmatter extraction.
type FrontmatterResult struct {
	Config  *FrontmatterConfig
	SQL     string // SQL content after frontmatter
	HasYAML bool   // Whether frontmatter was found
}

// frontmatterPattern matches /*--- ... ---*/ blocks at the top of a
// model file.
var frontmatterPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

// ExtractFrontmatter extracts YAML frontmatter from SQL content.
// Returns the parsed config, remaining SQL, and any error.
func ExtractFrontmatter(content string) (*FrontmatterResult, error) {
	result := &FrontmatterResult{
		Config:  &FrontmatterConfig{},
		SQL:     content,
		HasYAML: false,
	}

	matches := frontmatterPattern.FindStringSubmatch(content)
	if len(matches) < 2 {
		return result, nil
	}

	result.HasYAML = true
	result.SQL = strings.TrimSpace(frontmatterPattern.ReplaceAllString(content, ""))

	config, err := parseFrontmatterYAML(matches[1])
	if err != nil {
		return nil, err
	}

	result.Config = config
	return result, nil
}

// assertionYAML is an internal type for YAML unmarshaling with correct
// tags.
type assertionYAML struct {
	Name           string                    `yaml:"name,omitempty"`
	Query          string                    `yaml:"query,omitempty"`
	NotNull        []string                  `yaml:"not_null,omitempty"`
	Unique         []string                  `yaml:"unique,omitempty"`
	AcceptedValues *acceptedValuesConfigYAML `yaml:"accepted_values,omitempty"`
	Severity       string                    `yaml:"severity,omitempty"`
}

// acceptedValuesConfigYAML is an internal type for YAML unmarshaling.
type acceptedValuesConfigYAML struct {
	Column string   `yaml:"column"`
	Values []string `yaml:"values"`
}

// frontmatterConfigYAML is an internal type for YAML unmarshaling.
type frontmatterConfigYAML struct {
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	Materialized    string          `yaml:"materialized"`
	Strategy        string          `yaml:"strategy"`
	UniqueKey       stringList      `yaml:"unique_key"`
	WatermarkColumn string          `yaml:"watermark_column"`
	Lookback        string          `yaml:"lookback"`
	Refs            []string        `yaml:"refs"`
	Sources         []string        `yaml:"sources"`
	ClusterBy       []string        `yaml:"cluster_by"`
	Tags            []string        `yaml:"tags"`
	Assertions      []assertionYAML `yaml:"assertions"`
	Owner           string          `yaml:"owner"`
	Meta            map[string]any  `yaml:"meta"`
}

// stringList accepts either a scalar or a sequence in YAML.
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = []string{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("expected string or list of strings")
	}
}

var knownFields = map[string]bool{
	"name":             true,
	"description":      true,
	"materialized":     true,
	"strategy":         true,
	"unique_key":       true,
	"watermark_column": true,
	"lookback":         true,
	"refs":             true,
	"sources":          true,
	"cluster_by":       true,
	"tags":             true,
	"assertions":       true,
	"owner":            true,
	"meta":             true,
}

// parseFrontmatterYAML parses YAML content with strict field validation.
func parseFrontmatterYAML(yamlContent string) (*FrontmatterConfig, error) {
	var rawMap map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &rawMap); err != nil {
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("invalid YAML: %v", err),
		}
	}

	for field := range rawMap {
		if !knownFields[field] {
			return nil, &UnknownFieldError{Field: field}
		}
	}

	var yamlConfig frontmatterConfigYAML
	if err := yaml.Unmarshal([]byte(yamlContent), &yamlConfig); err != nil {
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("failed to parse frontmatter: %v", err),
		}
	}

	if yamlConfig.Materialized != "" && !core.Kind(yamlConfig.Materialized).Valid() {
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("invalid materialized value: %q, must be one of: table, view, incremental", yamlConfig.Materialized),
		}
	}
	if yamlConfig.Strategy != "" && !core.Strategy(yamlConfig.Strategy).Valid() {
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("invalid strategy: %q, must be one of: replace, merge", yamlConfig.Strategy),
		}
	}

	config := &FrontmatterConfig{
		Name:            yamlConfig.Name,
		Description:     yamlConfig.Description,
		Materialized:    yamlConfig.Materialized,
		Strategy:        yamlConfig.Strategy,
		UniqueKey:       yamlConfig.UniqueKey,
		WatermarkColumn: yamlConfig.WatermarkColumn,
		Refs:            yamlConfig.Refs,
		Sources:         yamlConfig.Sources,
		ClusterBy:       yamlConfig.ClusterBy,
		Tags:            yamlConfig.Tags,
		Owner:           yamlConfig.Owner,
		Meta:            yamlConfig.Meta,
	}

	if yamlConfig.Lookback != "" {
		d, err := time.ParseDuration(yamlConfig.Lookback)
		if err != nil {
			return nil, &FrontmatterParseError{
				Message: fmt.Sprintf("invalid lookback %q: %v", yamlConfig.Lookback, err),
			}
		}
		config.Lookback = d
	}

	for _, a := range yamlConfig.Assertions {
		if a.Severity != "" && !core.Severity(a.Severity).Valid() {
			return nil, &FrontmatterParseError{
				Message: fmt.Sprintf("invalid assertion severity: %q, must be error or warn", a.Severity),
			}
		}
		assertion := core.AssertionConfig{
			Name:     a.Name,
			Query:    a.Query,
			NotNull:  a.NotNull,
			Unique:   a.Unique,
			Severity: core.Severity(a.Severity),
		}
		if a.AcceptedValues != nil {
			assertion.AcceptedValues = &core.AcceptedValues{
				Column: a.AcceptedValues.Column,
				Values: a.AcceptedValues.Values,
			}
		}
		config.Assertions = append(config.Assertions, assertion)
	}

	return config, nil
}

// ApplyDefaults applies default values to a FrontmatterConfig based on
// file context.
func (c *FrontmatterConfig) ApplyDefaults(filename string) {
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filename, ".sql")
	}
	if c.Materialized == "" {
		c.Materialized = string(core.KindTable)
	}
}

// FrontmatterParseError represents a frontmatter parsing error.
type FrontmatterParseError struct {
	File    string
	Message string
}

func (e *FrontmatterParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError represents an error for unknown frontmatter fields.
type UnknownFieldError struct {
	File  string
	Field string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown field %q in frontmatter, use \"meta\" field for custom fields", e.Field)
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, msg)
	}
	return msg
}
