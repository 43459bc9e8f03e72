package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strataform/strataform/pkg/core"
)

// GetWatermark returns the watermark record for a model, or nil when
// the model has never committed one (which triggers a full build).
func (s *SQLiteStore) GetWatermark(modelName string) (*core.WatermarkRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRow(
		`SELECT model_name, watermark, last_run_id, last_row_count, last_success_time
		   FROM watermarks WHERE model_name = ?`, modelName)

	var record core.WatermarkRecord
	err := row.Scan(&record.ModelName, &record.Watermark, &record.RunID,
		&record.RowCount, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return &record, nil
}

// CommitWatermark upserts a model's watermark record. The write is
// applied under the model's key lock so concurrent commits for the
// same model (which the single-writer invariant should already
// prevent) cannot interleave.
func (s *SQLiteStore) CommitWatermark(record *core.WatermarkRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	mu := s.modelLock(record.ModelName)
	mu.Lock()
	defer mu.Unlock()

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	s.logger.Debug("committing watermark",
		slog.String("model", record.ModelName),
		slog.String("watermark", record.Watermark))

	_, err := s.db.Exec(
		`INSERT INTO watermarks (model_name, watermark, last_run_id, last_row_count, last_success_time)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(model_name) DO UPDATE SET
		   watermark = excluded.watermark,
		   last_run_id = excluded.last_run_id,
		   last_row_count = excluded.last_row_count,
		   last_success_time = excluded.last_success_time`,
		record.ModelName, record.Watermark, record.RunID, record.RowCount, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to commit watermark: %w", err)
	}
	return nil
}

// SaveSchemaSnapshot records the output columns of a model after a
// successful build, backing schema-drift detection on later runs.
func (s *SQLiteStore) SaveSchemaSnapshot(modelName, runID string, columns []string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.Exec(
		`INSERT INTO schema_snapshots (model_name, columns, run_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(model_name) DO UPDATE SET
		   columns = excluded.columns,
		   run_id = excluded.run_id,
		   updated_at = excluded.updated_at`,
		modelName, strings.Join(columns, ","), runID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save schema snapshot: %w", err)
	}
	return nil
}

// GetSchemaSnapshot returns the last recorded output columns for a
// model, or nil when none exists.
func (s *SQLiteStore) GetSchemaSnapshot(modelName string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRow(`SELECT columns FROM schema_snapshots WHERE model_name = ?`, modelName)

	var joined string
	err := row.Scan(&joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema snapshot: %w", err)
	}
	if joined == "" {
		return nil, nil
	}
	return strings.Split(joined, ","), nil
}
