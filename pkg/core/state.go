package core

// Store is the persistence contract for engine state: runs, per-model
// outcomes, watermarks, and schema snapshots. The store exclusively
// owns WatermarkRecords; watermark updates are read-modify-write
// operations applied atomically per model name.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	// Run operations. ListRuns returns the most recent runs first.
	CreateRun(fullRefresh bool) (*Run, error)
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error

	// Model run operations.
	RecordModelResult(runID string, result *ModelResult) error
	GetModelResults(runID string) ([]*ModelResult, error)

	// Watermark operations. GetWatermark returns nil without error
	// when no record exists for the model.
	GetWatermark(modelName string) (*WatermarkRecord, error)
	CommitWatermark(record *WatermarkRecord) error

	// Schema snapshot operations, backing schema-drift detection.
	// GetSchemaSnapshot returns nil without error when no snapshot
	// exists for the model.
	SaveSchemaSnapshot(modelName, runID string, columns []string) error
	GetSchemaSnapshot(modelName string) ([]string, error)

	// Assertion result operations.
	RecordAssertionResults(runID string, results []AssertionResult) error
	GetAssertionResults(runID string) ([]AssertionResult, error)
}
