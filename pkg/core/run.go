package core

import "time"

// RunStatus is the status of a whole pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one invocation of the pipeline over a selected model set.
type Run struct {
	ID          string
	Status      RunStatus
	FullRefresh bool
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// ModelStatus is the per-model state within a run.
//
// Transitions: pending -> ready (all upstream terminal and succeeded)
// -> running -> succeeded | failed. A model moves straight to skipped
// when any upstream is failed or skipped.
type ModelStatus string

// Model status constants.
const (
	ModelStatusPending   ModelStatus = "pending"
	ModelStatusReady     ModelStatus = "ready"
	ModelStatusRunning   ModelStatus = "running"
	ModelStatusSucceeded ModelStatus = "succeeded"
	ModelStatusFailed    ModelStatus = "failed"
	ModelStatusSkipped   ModelStatus = "skipped"
)

// Terminal reports whether s is a terminal status.
func (s ModelStatus) Terminal() bool {
	return s == ModelStatusSucceeded || s == ModelStatusFailed || s == ModelStatusSkipped
}

// ModelResult is the recorded outcome of one model within a run.
//
// A failed build (table not written) and a failed validation (table
// written but an assertion flagged it) are distinct: the former has
// Status failed and a build Error, the latter has Status failed with
// ValidationFailed set and the committed row count preserved.
type ModelResult struct {
	Model string

	Status ModelStatus

	// FullRebuild is true when the planner chose a full rebuild.
	FullRebuild bool

	// RowsAffected is the number of rows written by this build.
	RowsAffected int64

	// Watermark is the committed watermark value after this build,
	// empty for non-incremental models or uncommitted builds.
	Watermark string

	// Error is the root-cause error for failed or skipped models.
	Error error

	// RootCause names the originally failing model when the failure
	// was inherited from upstream; equal to Model otherwise.
	RootCause string

	// ValidationFailed is true when the table write committed but at
	// least one assertion failed.
	ValidationFailed bool

	// Assertions holds the results of every assertion that ran.
	Assertions []AssertionResult

	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns the wall-clock execution time of the model.
func (r *ModelResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunReport aggregates per-model outcomes for one run. It is the
// single source of truth for what happened: every selected model has
// exactly one terminal status and, if failed or skipped, exactly one
// root-cause error.
type RunReport struct {
	RunID       string
	Status      RunStatus
	FullRefresh bool
	StartedAt   time.Time
	CompletedAt time.Time

	// Results in deterministic topological order.
	Results []ModelResult
}

// Failed reports whether any selected model failed.
func (r *RunReport) Failed() bool {
	for i := range r.Results {
		if r.Results[i].Status == ModelStatusFailed {
			return true
		}
	}
	return false
}

// Counts returns the number of succeeded, failed, and skipped models.
func (r *RunReport) Counts() (succeeded, failed, skipped int) {
	for i := range r.Results {
		switch r.Results[i].Status {
		case ModelStatusSucceeded:
			succeeded++
		case ModelStatusFailed:
			failed++
		case ModelStatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// Result returns the result for a model name, or nil.
func (r *RunReport) Result(model string) *ModelResult {
	for i := range r.Results {
		if r.Results[i].Model == model {
			return &r.Results[i]
		}
	}
	return nil
}

// WatermarkRecord is the persisted high-water mark of an incremental
// model: the last successfully committed maximum value of the
// watermark column. Absent before the first successful build. Updated
// under the monotonic rule only after a build commits with zero
// assertion failures for that model; never rolled back.
type WatermarkRecord struct {
	ModelName string

	// Watermark is the stored high-water mark, serialized as text.
	Watermark string

	// RunID of the run that committed this watermark.
	RunID string

	// RowCount written by the committing build.
	RowCount int64

	// UpdatedAt is the commit time.
	UpdatedAt time.Time
}
