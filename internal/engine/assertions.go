package engine

// assertions.go - Data-quality checks that run after a model's build
// commits. Each assertion compiles to a query returning violating
// rows; zero rows means pass. Assertions never undo the write they
// validate.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strataform/strataform/pkg/core"
)

// runAssertions executes every assertion declared on the model,
// independently: one assertion erroring out never stops the others.
func (e *Engine) runAssertions(ctx context.Context, m *core.Model) []core.AssertionResult {
	if len(m.Assertions) == 0 {
		return nil
	}

	results := make([]core.AssertionResult, 0, len(m.Assertions))
	for i := range m.Assertions {
		a := &m.Assertions[i]

		result := core.AssertionResult{
			Name:     assertionName(a),
			Model:    m.Name,
			Severity: a.EffectiveSeverity(),
		}

		query, err := compileAssertion(a, m.Name)
		if err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		count, sample, err := e.collectViolations(ctx, query)
		if err != nil {
			result.Err = err
			e.logger.Error("assertion query failed",
				slog.String("model", m.Name),
				slog.String("assertion", result.Name),
				slog.String("error", err.Error()))
		} else {
			result.Passed = count == 0
			result.FailingRows = count
			result.Sample = sample
		}

		if !result.Passed {
			e.logger.Warn("assertion failed",
				slog.String("model", m.Name),
				slog.String("assertion", result.Name),
				slog.Int64("failing_rows", result.FailingRows),
				slog.String("severity", string(result.Severity)))
		}
		results = append(results, result)
	}
	return results
}

// assertionName derives a stable name for builtin assertion forms when
// none is configured.
func assertionName(a *core.AssertionConfig) string {
	if a.Name != "" {
		return a.Name
	}
	switch {
	case len(a.NotNull) > 0:
		return "not_null_" + strings.Join(a.NotNull, "_")
	case len(a.Unique) > 0:
		return "unique_" + strings.Join(a.Unique, "_")
	case a.AcceptedValues != nil:
		return "accepted_values_" + a.AcceptedValues.Column
	default:
		return "custom"
	}
}

// compileAssertion expands an assertion declaration into a
// violating-rows query against the model's target table.
func compileAssertion(a *core.AssertionConfig, target string) (string, error) {
	switch {
	case a.Query != "":
		return strings.ReplaceAll(a.Query, "{{ this }}", target), nil

	case len(a.NotNull) > 0:
		conditions := make([]string, len(a.NotNull))
		for i, col := range a.NotNull {
			conditions[i] = fmt.Sprintf("%s IS NULL", col)
		}
		return fmt.Sprintf("SELECT * FROM %s WHERE %s",
			target, strings.Join(conditions, " OR ")), nil

	case len(a.Unique) > 0:
		cols := strings.Join(a.Unique, ", ")
		return fmt.Sprintf(
			"SELECT %s, COUNT(*) AS occurrences FROM %s GROUP BY %s HAVING COUNT(*) > 1",
			cols, target, cols), nil

	case a.AcceptedValues != nil:
		values := make([]string, len(a.AcceptedValues.Values))
		for i, v := range a.AcceptedValues.Values {
			values[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return fmt.Sprintf("SELECT * FROM %s WHERE %s NOT IN (%s)",
			target, a.AcceptedValues.Column, strings.Join(values, ", ")), nil

	default:
		return "", fmt.Errorf("assertion %q declares no check", assertionName(a))
	}
}

// collectViolations runs a violating-rows query, counting every row
// and keeping up to SampleCap of them for the report.
func (e *Engine) collectViolations(ctx context.Context, query string) (int64, []map[string]string, error) {
	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return 0, nil, err
	}

	var count int64
	var sample []map[string]string
	for rows.Next() {
		count++
		if count > core.SampleCap {
			continue
		}

		values := make([]sql.NullString, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return 0, nil, err
		}

		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if values[i].Valid {
				row[col] = values[i].String
			} else {
				row[col] = "NULL"
			}
		}
		sample = append(sample, row)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return count, sample, nil
}
