package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataform/strataform/pkg/core"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(nil)
	require.NoError(t, s.Open(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)

	run, err := s.CreateRun(true)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, core.RunStatusRunning, run.Status)
	assert.True(t, run.FullRefresh)

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteRun(run.ID, core.RunStatusFailed, "boom"))

	got, err = s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestGetRun_NotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetRun("no-such-run")
	require.Error(t, err)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openStore(t)

	first, err := s.CreateRun(false)
	require.NoError(t, err)
	second, err := s.CreateRun(false)
	require.NoError(t, err)

	// Force distinct started_at orderings regardless of clock
	// resolution.
	_, err = s.db.Exec(`UPDATE runs SET started_at = ? WHERE id = ?`,
		first.StartedAt.Add(-time.Hour), first.ID)
	require.NoError(t, err)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)

	limited, err := s.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestModelResults(t *testing.T) {
	s := openStore(t)
	run, err := s.CreateRun(false)
	require.NoError(t, err)

	require.NoError(t, s.RecordModelResult(run.ID, &core.ModelResult{
		Model:        "stg_orders",
		Status:       core.ModelStatusSucceeded,
		FullRebuild:  true,
		RowsAffected: 42,
		Watermark:    "2025-06-09 08:00:00",
	}))
	require.NoError(t, s.RecordModelResult(run.ID, &core.ModelResult{
		Model:            "mart_sales",
		Status:           core.ModelStatusFailed,
		Error:            errors.New("merge failed"),
		RootCause:        "mart_sales",
		ValidationFailed: false,
	}))

	results, err := s.GetModelResults(run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := map[string]*core.ModelResult{}
	for _, r := range results {
		byName[r.Model] = r
	}
	ok := byName["stg_orders"]
	require.NotNil(t, ok)
	assert.True(t, ok.FullRebuild)
	assert.EqualValues(t, 42, ok.RowsAffected)
	assert.Equal(t, "2025-06-09 08:00:00", ok.Watermark)

	failed := byName["mart_sales"]
	require.NotNil(t, failed)
	require.Error(t, failed.Error)
	assert.Equal(t, "merge failed", failed.Error.Error())
	assert.Equal(t, "mart_sales", failed.RootCause)
}

func TestWatermarks(t *testing.T) {
	s := openStore(t)

	// Absent watermark is nil, not an error.
	wm, err := s.GetWatermark("fct_orders")
	require.NoError(t, err)
	assert.Nil(t, wm)

	require.NoError(t, s.CommitWatermark(&core.WatermarkRecord{
		ModelName: "fct_orders",
		Watermark: "2025-06-09 08:00:00",
		RunID:     "run-1",
		RowCount:  10,
	}))

	wm, err = s.GetWatermark("fct_orders")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "2025-06-09 08:00:00", wm.Watermark)
	assert.Equal(t, "run-1", wm.RunID)
	assert.False(t, wm.UpdatedAt.IsZero())

	// Upsert replaces the record in place.
	require.NoError(t, s.CommitWatermark(&core.WatermarkRecord{
		ModelName: "fct_orders",
		Watermark: "2025-06-10 00:00:00",
		RunID:     "run-2",
		RowCount:  3,
	}))

	wm, err = s.GetWatermark("fct_orders")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10 00:00:00", wm.Watermark)
	assert.EqualValues(t, 3, wm.RowCount)
}

func TestSchemaSnapshots(t *testing.T) {
	s := openStore(t)

	cols, err := s.GetSchemaSnapshot("fct_orders")
	require.NoError(t, err)
	assert.Nil(t, cols)

	require.NoError(t, s.SaveSchemaSnapshot("fct_orders", "run-1", []string{"order_id", "amount", "updated_at"}))

	cols, err = s.GetSchemaSnapshot("fct_orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "amount", "updated_at"}, cols)

	require.NoError(t, s.SaveSchemaSnapshot("fct_orders", "run-2", []string{"order_id", "amount"}))
	cols, err = s.GetSchemaSnapshot("fct_orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "amount"}, cols)
}

func TestAssertionResults(t *testing.T) {
	s := openStore(t)
	run, err := s.CreateRun(false)
	require.NoError(t, err)

	require.NoError(t, s.RecordAssertionResults(run.ID, []core.AssertionResult{
		{
			Name:     "not_null_order_id",
			Model:    "fct_orders",
			Severity: core.SeverityError,
			Passed:   true,
		},
		{
			Name:        "unique_order_id",
			Model:       "fct_orders",
			Severity:    core.SeverityWarn,
			Passed:      false,
			FailingRows: 2,
			Sample: []map[string]string{
				{"order_id": "7", "occurrences": "2"},
			},
		},
	}))

	results, err := s.GetAssertionResults(run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Passed)
	assert.Nil(t, results[0].Sample)

	failed := results[1]
	assert.Equal(t, core.SeverityWarn, failed.Severity)
	assert.EqualValues(t, 2, failed.FailingRows)
	require.Len(t, failed.Sample, 1)
	assert.Equal(t, "7", failed.Sample[0]["order_id"])
}

func TestOperationsRequireOpen(t *testing.T) {
	s := NewSQLiteStore(nil)
	_, err := s.CreateRun(false)
	require.Error(t, err)
	_, err = s.GetWatermark("m")
	require.Error(t, err)
}
