package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/strataform/strataform/pkg/core"
)

// RecordAssertionResults persists the outcomes of a model's assertion
// batch. Row samples are stored as JSON.
func (s *SQLiteStore) RecordAssertionResults(runID string, results []core.AssertionResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	for i := range results {
		r := &results[i]

		var sampleJSON *string
		if len(r.Sample) > 0 {
			raw, err := json.Marshal(r.Sample)
			if err != nil {
				return fmt.Errorf("failed to encode assertion sample: %w", err)
			}
			str := string(raw)
			sampleJSON = &str
		}

		errMsg := ""
		if r.Err != nil {
			errMsg = r.Err.Error()
		}

		_, err := s.db.Exec(
			`INSERT INTO assertion_results
			   (id, run_id, model_name, name, severity, passed, failing_rows, sample, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			generateID(), runID, r.Model, r.Name, string(r.Severity),
			r.Passed, r.FailingRows, sampleJSON, nullable(errMsg),
		)
		if err != nil {
			return fmt.Errorf("failed to record assertion result: %w", err)
		}
	}
	return nil
}

// GetAssertionResults retrieves all assertion outcomes for a run.
func (s *SQLiteStore) GetAssertionResults(runID string) ([]core.AssertionResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT model_name, name, severity, passed, failing_rows, sample, error
		   FROM assertion_results WHERE run_id = ? ORDER BY model_name, name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assertion results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []core.AssertionResult
	for rows.Next() {
		var r core.AssertionResult
		var severity string
		var sampleJSON, errMsg *string
		if err := rows.Scan(&r.Model, &r.Name, &severity, &r.Passed,
			&r.FailingRows, &sampleJSON, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan assertion result: %w", err)
		}
		r.Severity = core.Severity(severity)
		if sampleJSON != nil {
			if err := json.Unmarshal([]byte(*sampleJSON), &r.Sample); err != nil {
				return nil, fmt.Errorf("failed to decode assertion sample: %w", err)
			}
		}
		if msg := deref(errMsg); msg != "" {
			r.Err = errors.New(msg)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assertion results: %w", err)
	}
	return results, nil
}
