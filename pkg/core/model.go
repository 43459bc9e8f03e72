package core

import "time"

// Kind defines how a model is materialized in the warehouse.
type Kind string

// Materialization kinds. The set is closed: anything else fails at
// registration time.
const (
	KindView        Kind = "view"
	KindTable       Kind = "table"
	KindIncremental Kind = "incremental"
)

// Valid reports whether k is a recognized materialization kind.
func (k Kind) Valid() bool {
	switch k {
	case KindView, KindTable, KindIncremental:
		return true
	}
	return false
}

// Strategy defines how an incremental model writes its output.
type Strategy string

// Write strategies for incremental models.
const (
	// StrategyReplace rebuilds the table contents atomically.
	StrategyReplace Strategy = "replace"
	// StrategyMerge upserts rows matching the unique key and inserts
	// rows with no match. Rows are never deleted on merge.
	StrategyMerge Strategy = "merge"
)

// Valid reports whether s is a recognized merge strategy.
func (s Strategy) Valid() bool {
	return s == StrategyReplace || s == StrategyMerge
}

// DefaultLookback is the incremental lookback window applied when a
// model does not declare one. Late-arriving upstream corrections within
// this window are reprocessed even when they postdate the stored
// watermark.
const DefaultLookback = 72 * time.Hour

// TemplateContext carries the per-run inputs a compiled query template
// needs to yield executable SQL.
type TemplateContext struct {
	// Incremental is true when the planner decided on an incremental
	// build for this run.
	Incremental bool

	// WatermarkFilter is the boolean predicate bounding reprocessing,
	// e.g. `updated_at > '...' OR updated_at > '...'`. It is "1 = 1"
	// on full builds so templates can substitute it unconditionally.
	WatermarkFilter string

	// Target is the fully qualified name of the table the model
	// writes to.
	Target string
}

// QueryTemplate yields the executable query for a model given the
// planner's decision for this run. The engine treats the result as an
// opaque string.
type QueryTemplate func(tc TemplateContext) string

// Model is a declared transformation unit: one output table or view
// plus the metadata the engine needs to decide when and how to build it.
type Model struct {
	// Name uniquely identifies the model and names its output table.
	Name string

	// Kind defines the materialization: view, table, or incremental.
	Kind Kind

	// Strategy defines the incremental write strategy. Ignored for
	// views and tables (always replace). Defaults to replace.
	Strategy Strategy

	// UniqueKey is the ordered list of columns identifying a row.
	// Required when Strategy is merge.
	UniqueKey []string

	// References are the upstream model or source names this model
	// reads from. Every reference must resolve at graph-build time.
	References []string

	// WatermarkColumn bounds incremental reprocessing, typically a
	// modification timestamp. Required when Kind is incremental.
	WatermarkColumn string

	// Lookback widens the incremental window to re-absorb late
	// corrections. Zero means DefaultLookback.
	Lookback time.Duration

	// ClusterBy are advisory clustering/partition hints passed through
	// to the executor, never enforced by the engine.
	ClusterBy []string

	// Tags are free-form labels for selection and reporting.
	Tags []string

	// Assertions are data-quality checks run after the model's table
	// is updated.
	Assertions []AssertionConfig

	// Template yields the compiled query for this model.
	Template QueryTemplate
}

// EffectiveLookback returns the model's lookback window, applying the
// default when none is declared.
func (m *Model) EffectiveLookback() time.Duration {
	if m.Lookback <= 0 {
		return DefaultLookback
	}
	return m.Lookback
}

// EffectiveStrategy returns the model's write strategy, applying the
// replace default.
func (m *Model) EffectiveStrategy() Strategy {
	if m.Strategy == "" {
		return StrategyReplace
	}
	return m.Strategy
}

// Source is an external, unmanaged table the pipeline reads but never
// writes. Sources are leaf nodes of the dependency graph.
type Source struct {
	// Namespace groups related sources, e.g. "raw".
	Namespace string

	// Name is the table name within the namespace.
	Name string

	// Description is optional documentation.
	Description string
}

// Ref returns the identity under which the source is referenced by
// models: "namespace.name", or just the name when no namespace is set.
func (s *Source) Ref() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "." + s.Name
}
