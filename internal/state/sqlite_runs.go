package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/strataform/strataform/pkg/core"
)

// CreateRun records a new pipeline run in the running state.
func (s *SQLiteStore) CreateRun(fullRefresh bool) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:          generateID(),
		Status:      core.RunStatusRunning,
		FullRefresh: fullRefresh,
		StartedAt:   time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.Bool("full_refresh", fullRefresh))

	_, err := s.db.Exec(
		`INSERT INTO runs (id, status, full_refresh, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.FullRefresh, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRow(
		`SELECT id, status, full_refresh, started_at, completed_at, error FROM runs WHERE id = ?`, id)

	var run core.Run
	var status string
	var completedAt sql.NullTime
	var errMsg *string
	err := row.Scan(&run.ID, &status, &run.FullRefresh, &run.StartedAt, &completedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = core.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Error = deref(errMsg)
	return &run, nil
}

// ListRuns retrieves the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, status, full_refresh, started_at, completed_at, error
		   FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		var run core.Run
		var status string
		var completedAt sql.NullTime
		var errMsg *string
		if err := rows.Scan(&run.ID, &status, &run.FullRefresh, &run.StartedAt, &completedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = core.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		run.Error = deref(errMsg)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// CompleteRun marks a run terminal with the given status.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), now, nullable(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// RecordModelResult persists the terminal outcome of one model within
// a run.
func (s *SQLiteStore) RecordModelResult(runID string, result *core.ModelResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	errMsg := ""
	if result.Error != nil {
		errMsg = result.Error.Error()
	}

	_, err := s.db.Exec(
		`INSERT INTO model_runs
		   (id, run_id, model_name, status, full_rebuild, rows_affected, watermark,
		    error, root_cause, validation_failed, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		generateID(), runID, result.Model, string(result.Status), result.FullRebuild,
		result.RowsAffected, nullable(result.Watermark), nullable(errMsg),
		nullable(result.RootCause), result.ValidationFailed,
		nullableTime(result.StartedAt), nullableTime(result.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record model result: %w", err)
	}
	return nil
}

// GetModelResults retrieves all model outcomes for a run, ordered by
// completion time.
func (s *SQLiteStore) GetModelResults(runID string) ([]*core.ModelResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT model_name, status, full_rebuild, rows_affected, watermark,
		        error, root_cause, validation_failed, started_at, completed_at
		   FROM model_runs WHERE run_id = ? ORDER BY completed_at, model_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get model results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*core.ModelResult
	for rows.Next() {
		var r core.ModelResult
		var status string
		var watermark, errMsg, rootCause *string
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&r.Model, &status, &r.FullRebuild, &r.RowsAffected, &watermark,
			&errMsg, &rootCause, &r.ValidationFailed, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model result: %w", err)
		}
		r.Status = core.ModelStatus(status)
		r.Watermark = deref(watermark)
		if msg := deref(errMsg); msg != "" {
			r.Error = errors.New(msg)
		}
		r.RootCause = deref(rootCause)
		if startedAt.Valid {
			r.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			r.CompletedAt = completedAt.Time
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model results: %w", err)
	}
	return results, nil
}
