package core

import (
	"fmt"
	"strings"
)

// DuplicateModelError reports a second registration under an existing
// model name.
type DuplicateModelError struct {
	Name string
}

func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("model %q is already registered", e.Name)
}

// UnknownReferenceError reports a declared reference that resolves to
// neither a registered model nor a registered source.
type UnknownReferenceError struct {
	Model     string
	Reference string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("model %q references unknown model or source %q", e.Model, e.Reference)
}

// CycleError reports a dependency cycle. Path holds every model in one
// detected cycle, first node repeated at the end.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// InvalidModelError reports a model definition rejected at
// registration time: unrecognized kind or strategy, merge without a
// unique key, incremental without a watermark column.
type InvalidModelError struct {
	Name   string
	Reason string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid model %q: %s", e.Name, e.Reason)
}

// SchemaChangeError reports output columns diverging from a model's
// last known schema. Fatal for the affected model only; the model is
// not committed and its watermark is left untouched.
type SchemaChangeError struct {
	Model string
	Want  []string
	Got   []string
}

func (e *SchemaChangeError) Error() string {
	return fmt.Sprintf("schema change detected for model %q: had columns [%s], got [%s]",
		e.Model, strings.Join(e.Want, ", "), strings.Join(e.Got, ", "))
}

// ExecutionError wraps a backend failure from the tabular execution
// interface. The engine treats it opaquely and maps it to the model's
// failed state.
type ExecutionError struct {
	Model string
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for model %q: %v", e.Model, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// UpstreamError marks a model skipped because something upstream
// failed. RootCause names the original failing model, no matter how
// many hops away it is.
type UpstreamError struct {
	Model     string
	RootCause string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model %q skipped: upstream model %q failed", e.Model, e.RootCause)
}
