// Package registry holds model and source definitions and builds the
// dependency graph. Definitions are validated twice: structurally at
// Register time (closed kind/strategy sets, merge and incremental
// requirements) and referentially at BuildGraph time (every declared
// reference must resolve, the graph must be acyclic).
package registry

import (
	"sort"
	"sync"

	"github.com/strataform/strataform/internal/dag"
	"github.com/strataform/strataform/pkg/core"
)

// Registry collects model and source definitions.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]*core.Model
	sources map[string]*core.Source
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		models:  make(map[string]*core.Model),
		sources: make(map[string]*core.Source),
	}
}

// Register adds a model. It fails with *core.DuplicateModelError when
// the name is taken and *core.InvalidModelError when the definition is
// structurally invalid. Reference resolution is deferred to BuildGraph
// so registration order doesn't matter.
func (r *Registry) Register(m *core.Model) error {
	if err := validate(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[m.Name]; exists {
		return &core.DuplicateModelError{Name: m.Name}
	}
	r.models[m.Name] = m
	return nil
}

// RegisterSource adds an external source. Re-registering the same
// reference overwrites the previous definition.
func (r *Registry) RegisterSource(s *core.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Ref()] = s
}

// Model returns a registered model by name.
func (r *Registry) Model(name string) (*core.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Models returns all registered models sorted by name.
func (r *Registry) Models() []*core.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]*core.Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models
}

// Sources returns all registered sources sorted by reference.
func (r *Registry) Sources() []*core.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sources := make([]*core.Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Ref() < sources[j].Ref() })
	return sources
}

// BuildGraph resolves every declared reference and returns the
// immutable dependency graph. Models and sources are both nodes;
// sources are always leaves. Fails with *core.UnknownReferenceError or
// *core.CycleError.
func (r *Registry) BuildGraph() (*dag.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := dag.New()
	for name, m := range r.models {
		g.AddNode(name, m)
	}
	for ref, s := range r.sources {
		// A model name shadows a source with the same reference.
		if _, ok := r.models[ref]; !ok {
			g.AddNode(ref, s)
		}
	}

	for _, name := range sortedNames(r.models) {
		m := r.models[name]
		for _, ref := range m.References {
			if _, ok := r.models[ref]; !ok {
				if _, ok := r.sources[ref]; !ok {
					return nil, &core.UnknownReferenceError{Model: name, Reference: ref}
				}
			}
			if err := g.AddEdge(ref, name); err != nil {
				return nil, err
			}
		}
	}

	if _, err := g.TopologicalSort(); err != nil {
		return nil, err
	}
	return g, nil
}

func validate(m *core.Model) error {
	if m.Name == "" {
		return &core.InvalidModelError{Name: m.Name, Reason: "model name is required"}
	}
	if !m.Kind.Valid() {
		return &core.InvalidModelError{Name: m.Name, Reason: "unrecognized materialization kind " + string(m.Kind)}
	}
	if m.Strategy != "" && !m.Strategy.Valid() {
		return &core.InvalidModelError{Name: m.Name, Reason: "unrecognized merge strategy " + string(m.Strategy)}
	}
	if m.Kind == core.KindIncremental && m.EffectiveStrategy() == core.StrategyMerge && len(m.UniqueKey) == 0 {
		return &core.InvalidModelError{Name: m.Name, Reason: "merge strategy requires a unique key"}
	}
	if m.Kind == core.KindIncremental && m.WatermarkColumn == "" {
		return &core.InvalidModelError{Name: m.Name, Reason: "incremental models require a watermark column"}
	}
	if m.Template == nil {
		return &core.InvalidModelError{Name: m.Name, Reason: "model has no query template"}
	}
	for i := range m.Assertions {
		a := &m.Assertions[i]
		if a.Severity != "" && !a.Severity.Valid() {
			return &core.InvalidModelError{Name: m.Name, Reason: "unrecognized assertion severity " + string(a.Severity)}
		}
	}
	return nil
}

func sortedNames(models map[string]*core.Model) []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
