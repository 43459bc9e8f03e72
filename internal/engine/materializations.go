package engine

// materializations.go - Build strategies for view, table, and
// incremental models. Builds write into a staging table first so a
// failed or schema-drifted build never touches the target; the target
// is only replaced (swap) or merged into after the staged result is
// accepted.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/strataform/strataform/internal/planner"
	"github.com/strataform/strataform/pkg/core"
)

// buildOutcome is the low-level result of one materialization.
type buildOutcome struct {
	rowsAffected int64

	// observedWatermark is the maximum watermark-column value among
	// the rows written, empty for non-incremental models.
	observedWatermark string

	// columns of the freshly built output, for the schema snapshot.
	columns []string
}

// executeModel runs one model end to end: plan, build, assert, commit.
// The returned bool tells the scheduler whether downstream models must
// be skipped.
func (e *Engine) executeModel(ctx context.Context, m *core.Model, run *core.Run, fullRefresh bool) (*core.ModelResult, bool) {
	// Cancellation stops dispatch of new models; a model already
	// dispatched runs to completion so the warehouse is never left
	// with a half-applied merge.
	ctx = context.WithoutCancel(ctx)

	result := &core.ModelResult{
		Model:     m.Name,
		StartedAt: time.Now().UTC(),
	}

	var wm *core.WatermarkRecord
	if m.Kind == core.KindIncremental {
		var err error
		wm, err = e.store.GetWatermark(m.Name)
		if err != nil {
			return e.failBuild(run, result, fmt.Errorf("failed to read watermark: %w", err))
		}
	}

	decision := planner.Plan(m, wm, run.StartedAt, fullRefresh)
	result.FullRebuild = decision.FullRebuild

	query := m.Template(core.TemplateContext{
		Incremental:     !decision.FullRebuild,
		WatermarkFilter: decision.Filter,
		Target:          m.Name,
	})

	e.logger.Debug("building model",
		slog.String("model", m.Name),
		slog.String("kind", string(m.Kind)),
		slog.Bool("full_rebuild", decision.FullRebuild))

	var outcome *buildOutcome
	var err error
	switch {
	case m.Kind == core.KindView:
		outcome, err = e.buildView(ctx, m, query)
	case decision.FullRebuild:
		outcome, err = e.buildReplace(ctx, m, query)
	default:
		outcome, err = e.buildMerge(ctx, m, query)
	}
	if err != nil {
		return e.failBuild(run, result, err)
	}
	result.RowsAffected = outcome.rowsAffected

	// The table write is committed at this point. Assertions decide
	// whether the model validates and whether the watermark advances;
	// they never undo the write.
	assertions := e.runAssertions(ctx, m)
	result.Assertions = assertions

	failing := 0
	blockingFailure := false
	for i := range assertions {
		if !assertions[i].Passed {
			failing++
			if assertions[i].Severity == core.SeverityError {
				blockingFailure = true
			}
		}
	}

	if err := e.store.RecordAssertionResults(run.ID, assertions); err != nil {
		e.logger.Error("failed to record assertion results",
			slog.String("model", m.Name), slog.String("error", err.Error()))
	}

	if len(outcome.columns) > 0 {
		if err := e.store.SaveSchemaSnapshot(m.Name, run.ID, outcome.columns); err != nil {
			e.logger.Error("failed to save schema snapshot",
				slog.String("model", m.Name), slog.String("error", err.Error()))
		}
	}

	if failing == 0 {
		if m.Kind == core.KindIncremental {
			stored := ""
			if wm != nil {
				stored = wm.Watermark
			}
			next := planner.NextWatermark(stored, outcome.observedWatermark)
			if next != "" {
				record := &core.WatermarkRecord{
					ModelName: m.Name,
					Watermark: next,
					RunID:     run.ID,
					RowCount:  outcome.rowsAffected,
				}
				if err := e.store.CommitWatermark(record); err != nil {
					return e.failBuild(run, result, fmt.Errorf("failed to commit watermark: %w", err))
				}
				result.Watermark = next
			}
		}
		result.Status = core.ModelStatusSucceeded
	} else {
		// Validated-failed: the table holds the committed data, the
		// watermark stays put so the next run reprocesses the window.
		result.Status = core.ModelStatusFailed
		result.ValidationFailed = true
		result.RootCause = m.Name
		result.Error = fmt.Errorf("%d assertion(s) failed for model %s", failing, m.Name)
	}

	result.CompletedAt = time.Now().UTC()
	if err := e.store.RecordModelResult(run.ID, result); err != nil {
		e.logger.Error("failed to record model result",
			slog.String("model", m.Name), slog.String("error", err.Error()))
	}

	return result, result.Status == core.ModelStatusFailed && (!result.ValidationFailed || blockingFailure)
}

// failBuild finalizes a model result for a build-time failure: the
// target table was not replaced and the watermark is untouched.
func (e *Engine) failBuild(run *core.Run, result *core.ModelResult, err error) (*core.ModelResult, bool) {
	result.Status = core.ModelStatusFailed
	result.Error = err
	result.RootCause = result.Model
	result.CompletedAt = time.Now().UTC()
	if recErr := e.store.RecordModelResult(run.ID, result); recErr != nil {
		e.logger.Error("failed to record model result",
			slog.String("model", result.Model), slog.String("error", recErr.Error()))
	}
	return result, true
}

// buildView redefines a view.
func (e *Engine) buildView(ctx context.Context, m *core.Model, query string) (*buildOutcome, error) {
	if err := e.exec(ctx, m, planner.DropView(m.Name)); err != nil {
		return nil, err
	}
	if err := e.exec(ctx, m, planner.CreateView(m.Name, query)); err != nil {
		return nil, err
	}
	return &buildOutcome{}, nil
}

// buildReplace fully rebuilds a table: stage the new contents, then
// swap the staged table into place.
func (e *Engine) buildReplace(ctx context.Context, m *core.Model, query string) (*buildOutcome, error) {
	stage := planner.StageName(m.Name)

	if err := e.exec(ctx, m, planner.DropTable(stage)); err != nil {
		return nil, err
	}
	if err := e.exec(ctx, m, planner.CreateTableAs(stage, query, m.ClusterBy)); err != nil {
		return nil, err
	}

	outcome, err := e.inspectStage(ctx, m, stage)
	if err != nil {
		return nil, err
	}

	if err := e.exec(ctx, m, planner.DropTable(m.Name)); err != nil {
		return nil, err
	}
	if err := e.exec(ctx, m, planner.RenameTable(stage, planner.Unqualified(m.Name))); err != nil {
		return nil, err
	}
	return outcome, nil
}

// buildMerge applies an incremental merge: stage the filtered rows,
// verify the staged schema against the last known one, then upsert by
// unique key. Rows without a staged match are never deleted.
func (e *Engine) buildMerge(ctx context.Context, m *core.Model, query string) (*buildOutcome, error) {
	stage := planner.StageName(m.Name)

	if err := e.exec(ctx, m, planner.DropTable(stage)); err != nil {
		return nil, err
	}
	if err := e.exec(ctx, m, planner.CreateTableAs(stage, query, m.ClusterBy)); err != nil {
		return nil, err
	}

	outcome, err := e.inspectStage(ctx, m, stage)
	if err != nil {
		return nil, err
	}

	if err := e.checkSchema(m, outcome.columns); err != nil {
		_ = e.db.Exec(ctx, planner.DropTable(stage))
		return nil, err
	}

	if err := e.exec(ctx, m, planner.DeleteMatching(m.Name, stage, m.UniqueKey)); err != nil {
		return nil, err
	}
	if err := e.exec(ctx, m, planner.InsertFrom(m.Name, stage)); err != nil {
		return nil, err
	}
	if err := e.exec(ctx, m, planner.DropTable(stage)); err != nil {
		return nil, err
	}
	return outcome, nil
}

// inspectStage reads row count, observed watermark, and columns from a
// staged build.
func (e *Engine) inspectStage(ctx context.Context, m *core.Model, stage string) (*buildOutcome, error) {
	outcome := &buildOutcome{}

	count, err := e.queryScalar(ctx, m, planner.CountRows(stage))
	if err != nil {
		return nil, err
	}
	if count.Valid {
		if _, err := fmt.Sscan(count.String, &outcome.rowsAffected); err != nil {
			outcome.rowsAffected = 0
		}
	}

	if m.Kind == core.KindIncremental && m.WatermarkColumn != "" {
		observed, err := e.queryScalar(ctx, m, planner.MaxValue(stage, m.WatermarkColumn))
		if err != nil {
			return nil, err
		}
		if observed.Valid {
			outcome.observedWatermark = observed.String
		}
	}

	meta, err := e.db.GetTableMetadata(ctx, stage)
	if err != nil {
		return nil, &core.ExecutionError{Model: m.Name, Err: err}
	}
	outcome.columns = meta.ColumnNames()
	return outcome, nil
}

// checkSchema compares freshly built columns against the model's last
// known schema. on_schema_change = fail is the only supported policy:
// any divergence is fatal for the model.
func (e *Engine) checkSchema(m *core.Model, columns []string) error {
	known, err := e.store.GetSchemaSnapshot(m.Name)
	if err != nil {
		return fmt.Errorf("failed to read schema snapshot: %w", err)
	}
	if known == nil {
		return nil
	}
	if !slices.Equal(known, columns) {
		return &core.SchemaChangeError{Model: m.Name, Want: known, Got: columns}
	}
	return nil
}

// exec issues a statement through the tabular execution interface,
// mapping backend failures to ExecutionError.
func (e *Engine) exec(ctx context.Context, m *core.Model, stmt string) error {
	if err := e.db.Exec(ctx, stmt); err != nil {
		return &core.ExecutionError{Model: m.Name, Query: stmt, Err: err}
	}
	return nil
}

// queryScalar runs a single-value query and returns its first column.
func (e *Engine) queryScalar(ctx context.Context, m *core.Model, query string) (sql.NullString, error) {
	var value sql.NullString

	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return value, &core.ExecutionError{Model: m.Name, Query: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		if err := rows.Scan(&value); err != nil {
			return value, &core.ExecutionError{Model: m.Name, Query: query, Err: err}
		}
	}
	if err := rows.Err(); err != nil {
		return value, &core.ExecutionError{Model: m.Name, Query: query, Err: err}
	}
	return value, nil
}
