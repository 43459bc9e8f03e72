package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/strataform/strataform/pkg/core"
)

// sqliteWarehouse is a test warehouse adapter: a single-connection
// SQLite database with just enough surface for the materialization
// paths.
type sqliteWarehouse struct {
	db *sql.DB
}

func newSQLiteWarehouse(t *testing.T) *sqliteWarehouse {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return &sqliteWarehouse{db: db}
}

func (w *sqliteWarehouse) Connect(context.Context, core.AdapterConfig) error { return nil }
func (w *sqliteWarehouse) Close() error                                      { return nil }

func (w *sqliteWarehouse) Exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *sqliteWarehouse) Query(ctx context.Context, query string) (*core.Rows, error) {
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &core.Rows{Rows: rows}, nil
}

func (w *sqliteWarehouse) GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error) {
	rows, err := w.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	meta := &core.TableMetadata{Name: table}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		meta.Columns = append(meta.Columns, core.Column{
			Name: name, Type: ctype, Nullable: notNull == 0, Position: cid,
		})
	}
	return meta, rows.Err()
}

func (w *sqliteWarehouse) LoadCSV(context.Context, string, string) error {
	return fmt.Errorf("not supported")
}

func (w *sqliteWarehouse) DialectName() string { return "sqlite" }

func (w *sqliteWarehouse) mustExec(t *testing.T, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := w.db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func (w *sqliteWarehouse) count(t *testing.T, query string) int {
	t.Helper()
	var n int
	require.NoError(t, w.db.QueryRow(query).Scan(&n))
	return n
}

func newTestEngine(t *testing.T, wh *sqliteWarehouse) *Engine {
	t.Helper()
	eng, err := New(Config{
		Adapter:   wh,
		StatePath: filepath.Join(t.TempDir(), "state.db"),
		Workers:   2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func tmpl(sql string) core.QueryTemplate {
	return func(core.TemplateContext) string { return sql }
}

func filterTmpl(format string) core.QueryTemplate {
	return func(tc core.TemplateContext) string {
		return fmt.Sprintf(format, tc.WatermarkFilter)
	}
}

func TestRun_MedallionFlow(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	wh.mustExec(t,
		`CREATE TABLE raw_orders (order_id INTEGER, amount REAL, status TEXT, updated_at TEXT)`,
		`INSERT INTO raw_orders VALUES
		   (1, 10.0, 'placed',  '2025-06-01 10:00:00'),
		   (2, 20.0, 'shipped', '2025-06-02 11:00:00')`,
	)

	eng := newTestEngine(t, wh)
	eng.RegisterSource(&core.Source{Name: "raw_orders"})

	require.NoError(t, eng.Register(&core.Model{
		Name:       "stg_orders",
		Kind:       core.KindView,
		References: []string{"raw_orders"},
		Template:   tmpl("SELECT order_id, amount, status, updated_at FROM raw_orders"),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name:            "fct_orders",
		Kind:            core.KindIncremental,
		Strategy:        core.StrategyMerge,
		UniqueKey:       []string{"order_id"},
		WatermarkColumn: "updated_at",
		References:      []string{"stg_orders"},
		Template:        filterTmpl("SELECT * FROM stg_orders WHERE %s"),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name:       "mart_totals",
		Kind:       core.KindTable,
		References: []string{"fct_orders"},
		Template:   tmpl("SELECT status, SUM(amount) AS total FROM fct_orders GROUP BY status"),
	}))

	report, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, core.RunStatusCompleted, report.Status)
	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 3, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)

	// Topological report order.
	require.Len(t, report.Results, 3)
	assert.Equal(t, "stg_orders", report.Results[0].Model)
	assert.Equal(t, "fct_orders", report.Results[1].Model)
	assert.Equal(t, "mart_totals", report.Results[2].Model)

	// First incremental run is a full rebuild and commits a watermark.
	fct := report.Result("fct_orders")
	assert.True(t, fct.FullRebuild)
	assert.EqualValues(t, 2, fct.RowsAffected)
	assert.Equal(t, "2025-06-02 11:00:00", fct.Watermark)

	assert.Equal(t, 2, wh.count(t, "SELECT COUNT(*) FROM fct_orders"))
	assert.Equal(t, 2, wh.count(t, "SELECT COUNT(*) FROM mart_totals"))

	// Second run: one updated row, one new row. The merge must update
	// in place, not duplicate.
	wh.mustExec(t,
		`UPDATE raw_orders SET status = 'cancelled', updated_at = '2025-06-03 09:00:00' WHERE order_id = 2`,
		`INSERT INTO raw_orders VALUES (3, 30.0, 'placed', '2025-06-03 10:00:00')`,
	)

	report, err = eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, core.RunStatusCompleted, report.Status)

	fct = report.Result("fct_orders")
	assert.False(t, fct.FullRebuild)
	assert.Equal(t, "2025-06-03 10:00:00", fct.Watermark)

	assert.Equal(t, 3, wh.count(t, "SELECT COUNT(*) FROM fct_orders"))
	assert.Equal(t, 1, wh.count(t, "SELECT COUNT(*) FROM fct_orders WHERE order_id = 2"))
	assert.Equal(t, 1, wh.count(t, "SELECT COUNT(*) FROM fct_orders WHERE order_id = 2 AND status = 'cancelled'"))
}

func TestRun_FullRefreshIsIdempotent(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	wh.mustExec(t,
		`CREATE TABLE raw_events (id INTEGER, ts TEXT)`,
		`INSERT INTO raw_events VALUES
		   (1, '2025-06-01 00:00:00'),
		   (2, '2025-06-02 00:00:00')`,
	)

	eng := newTestEngine(t, wh)
	eng.RegisterSource(&core.Source{Name: "raw_events"})
	require.NoError(t, eng.Register(&core.Model{
		Name:            "fct_events",
		Kind:            core.KindIncremental,
		Strategy:        core.StrategyMerge,
		UniqueKey:       []string{"id"},
		WatermarkColumn: "ts",
		References:      []string{"raw_events"},
		Template:        filterTmpl("SELECT * FROM raw_events WHERE %s"),
	}))

	_, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// With unchanged sources, repeated full refreshes must converge on
	// identical table contents.
	snapshot := func() string {
		rows, err := wh.db.Query("SELECT id, ts FROM fct_events ORDER BY id")
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()

		digest := ""
		for rows.Next() {
			var id int
			var ts string
			require.NoError(t, rows.Scan(&id, &ts))
			digest += fmt.Sprintf("%d|%s;", id, ts)
		}
		require.NoError(t, rows.Err())
		return digest
	}

	report, err := eng.Run(context.Background(), RunOptions{FullRefresh: true})
	require.NoError(t, err)
	require.True(t, report.Result("fct_events").FullRebuild)
	first := snapshot()

	report, err = eng.Run(context.Background(), RunOptions{FullRefresh: true})
	require.NoError(t, err)
	require.True(t, report.Result("fct_events").FullRebuild)

	assert.Equal(t, 2, wh.count(t, "SELECT COUNT(*) FROM fct_events"))
	assert.Equal(t, first, snapshot())
	assert.Equal(t, "2025-06-02 00:00:00", report.Result("fct_events").Watermark)
}

func TestRun_FailurePropagation(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	eng := newTestEngine(t, wh)

	require.NoError(t, eng.Register(&core.Model{
		Name:     "broken",
		Kind:     core.KindTable,
		Template: tmpl("SELECT * FROM table_that_does_not_exist"),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name:       "child",
		Kind:       core.KindTable,
		References: []string{"broken"},
		Template:   tmpl("SELECT * FROM broken"),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name:       "grandchild",
		Kind:       core.KindView,
		References: []string{"child"},
		Template:   tmpl("SELECT * FROM child"),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name:     "unrelated",
		Kind:     core.KindTable,
		Template: tmpl("SELECT 1 AS one"),
	}))

	report, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, core.RunStatusFailed, report.Status)
	assert.Equal(t, core.ModelStatusFailed, report.Result("broken").Status)
	assert.Equal(t, core.ModelStatusSucceeded, report.Result("unrelated").Status)

	// Skips carry the root cause across multiple hops.
	for _, name := range []string{"child", "grandchild"} {
		r := report.Result(name)
		require.NotNil(t, r)
		assert.Equal(t, core.ModelStatusSkipped, r.Status)
		assert.Equal(t, "broken", r.RootCause)
		var upstream *core.UpstreamError
		require.ErrorAs(t, r.Error, &upstream)
		assert.Equal(t, "broken", upstream.RootCause)
	}
}

func TestRun_AssertionSeverity(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	wh.mustExec(t,
		`CREATE TABLE raw_items (id INTEGER, ts TEXT)`,
		`INSERT INTO raw_items VALUES (1, '2025-06-01 00:00:00'), (NULL, '2025-06-02 00:00:00')`,
	)

	eng := newTestEngine(t, wh)
	eng.RegisterSource(&core.Source{Name: "raw_items"})

	register := func(name string, severity core.Severity) {
		require.NoError(t, eng.Register(&core.Model{
			Name:            name,
			Kind:            core.KindIncremental,
			Strategy:        core.StrategyMerge,
			UniqueKey:       []string{"id"},
			WatermarkColumn: "ts",
			References:      []string{"raw_items"},
			Template:        filterTmpl("SELECT * FROM raw_items WHERE %s"),
			Assertions: []core.AssertionConfig{
				{NotNull: []string{"id"}, Severity: severity},
			},
		}))
		require.NoError(t, eng.Register(&core.Model{
			Name:       name + "_child",
			Kind:       core.KindView,
			References: []string{name},
			Template:   tmpl("SELECT * FROM " + name),
		}))
	}
	register("strict", core.SeverityError)
	register("lenient", core.SeverityWarn)

	report, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, report.Status)

	// Error severity: model failed, downstream skipped.
	strict := report.Result("strict")
	assert.Equal(t, core.ModelStatusFailed, strict.Status)
	assert.True(t, strict.ValidationFailed)
	assert.Equal(t, core.ModelStatusSkipped, report.Result("strict_child").Status)

	// Warn severity: model still failed, but downstream ran.
	lenient := report.Result("lenient")
	assert.Equal(t, core.ModelStatusFailed, lenient.Status)
	assert.True(t, lenient.ValidationFailed)
	assert.Equal(t, core.ModelStatusSucceeded, report.Result("lenient_child").Status)

	// The table write committed despite the failed validation.
	assert.Equal(t, 2, wh.count(t, "SELECT COUNT(*) FROM strict"))

	// No watermark commits with a failing assertion of any severity.
	for _, name := range []string{"strict", "lenient"} {
		wm, err := eng.Store().GetWatermark(name)
		require.NoError(t, err)
		assert.Nil(t, wm, "expected no watermark for %s", name)
	}
}

func TestRun_AssertionSample(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	wh.mustExec(t,
		`CREATE TABLE raw_readings (id INTEGER, value REAL)`,
		`INSERT INTO raw_readings VALUES (1, 10.0), (2, -3.5), (3, 20.0)`,
	)

	eng := newTestEngine(t, wh)
	eng.RegisterSource(&core.Source{Name: "raw_readings"})
	require.NoError(t, eng.Register(&core.Model{
		Name:       "readings",
		Kind:       core.KindTable,
		References: []string{"raw_readings"},
		Template:   tmpl("SELECT * FROM raw_readings"),
		Assertions: []core.AssertionConfig{{
			Name:  "non_negative_value",
			Query: "SELECT id, value FROM {{ this }} WHERE value < 0",
		}},
	}))

	report, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	r := report.Result("readings")
	require.Len(t, r.Assertions, 1)
	a := r.Assertions[0]
	assert.Equal(t, "non_negative_value", a.Name)
	assert.False(t, a.Passed)
	assert.EqualValues(t, 1, a.FailingRows)

	// The violating row itself is in the sample.
	require.Len(t, a.Sample, 1)
	assert.Equal(t, "2", a.Sample[0]["id"])
	assert.Equal(t, "-3.5", a.Sample[0]["value"])
}

func TestRun_AssertionSampleCapped(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	wh.mustExec(t, `CREATE TABLE raw_flags (id INTEGER, flag TEXT)`)
	for i := 1; i <= 25; i++ {
		wh.mustExec(t, fmt.Sprintf("INSERT INTO raw_flags VALUES (%d, NULL)", i))
	}

	eng := newTestEngine(t, wh)
	eng.RegisterSource(&core.Source{Name: "raw_flags"})
	require.NoError(t, eng.Register(&core.Model{
		Name:       "flags",
		Kind:       core.KindTable,
		References: []string{"raw_flags"},
		Template:   tmpl("SELECT * FROM raw_flags"),
		Assertions: []core.AssertionConfig{{NotNull: []string{"flag"}}},
	}))

	report, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	r := report.Result("flags")
	require.Len(t, r.Assertions, 1)
	a := r.Assertions[0]
	assert.Equal(t, "not_null_flag", a.Name)
	assert.False(t, a.Passed)

	// Every violation is counted; the sample is bounded.
	assert.EqualValues(t, 25, a.FailingRows)
	assert.Len(t, a.Sample, core.SampleCap)
	assert.Equal(t, "NULL", a.Sample[0]["flag"])
}

func TestRun_SchemaDriftFailsMerge(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	wh.mustExec(t,
		`CREATE TABLE raw_src (id INTEGER, ts TEXT)`,
		`INSERT INTO raw_src VALUES (1, '2025-06-01 00:00:00')`,
	)

	eng := newTestEngine(t, wh)
	eng.RegisterSource(&core.Source{Name: "raw_src"})

	model := &core.Model{
		Name:            "drifting",
		Kind:            core.KindIncremental,
		Strategy:        core.StrategyMerge,
		UniqueKey:       []string{"id"},
		WatermarkColumn: "ts",
		References:      []string{"raw_src"},
		Template:        filterTmpl("SELECT id, ts FROM raw_src WHERE %s"),
	}
	require.NoError(t, eng.Register(model))

	_, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// New column appears upstream; the merge must fail rather than
	// write mismatched columns.
	wh.mustExec(t,
		`INSERT INTO raw_src VALUES (2, '2025-06-05 00:00:00')`,
	)
	model.Template = filterTmpl("SELECT id, ts, 'x' AS extra FROM raw_src WHERE %s")

	report, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	r := report.Result("drifting")
	assert.Equal(t, core.ModelStatusFailed, r.Status)
	var drift *core.SchemaChangeError
	require.ErrorAs(t, r.Error, &drift)
	assert.Equal(t, []string{"id", "ts"}, drift.Want)
	assert.Equal(t, []string{"id", "ts", "extra"}, drift.Got)

	// Target untouched; watermark unchanged.
	assert.Equal(t, 1, wh.count(t, "SELECT COUNT(*) FROM drifting"))
	wm, err := eng.Store().GetWatermark("drifting")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "2025-06-01 00:00:00", wm.Watermark)
}

func TestRun_Selection(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	eng := newTestEngine(t, wh)

	require.NoError(t, eng.Register(&core.Model{
		Name: "a", Kind: core.KindTable, Template: tmpl("SELECT 1 AS one"),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name: "b", Kind: core.KindTable, References: []string{"a"},
		Template: tmpl("SELECT * FROM a"),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name: "c", Kind: core.KindTable, References: []string{"b"},
		Template: tmpl("SELECT * FROM b"),
	}))

	// Build everything once so selected subsets have their inputs.
	_, err := eng.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	report, err := eng.Run(context.Background(), RunOptions{Select: []string{"b"}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "b", report.Results[0].Model)

	report, err = eng.Run(context.Background(), RunOptions{Select: []string{"b"}, Downstream: true})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "b", report.Results[0].Model)
	assert.Equal(t, "c", report.Results[1].Model)

	report, err = eng.Run(context.Background(), RunOptions{Select: []string{"b"}, Upstream: true})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "a", report.Results[0].Model)

	_, err = eng.Run(context.Background(), RunOptions{Select: []string{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model in selection")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	eng := newTestEngine(t, wh)

	require.NoError(t, eng.Register(&core.Model{
		Name: "a", Kind: core.KindTable, Template: tmpl("SELECT 1 AS one"),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCancelled, report.Status)
	assert.Equal(t, core.ModelStatusSkipped, report.Result("a").Status)
}

func TestExecuteModel_FinishesUnderCancellation(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	eng := newTestEngine(t, wh)

	run, err := eng.Store().CreateRun(false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A dispatched model runs to completion even when the run context
	// is already cancelled; only dispatch of new models stops.
	result, block := eng.executeModel(ctx, &core.Model{
		Name:     "committed",
		Kind:     core.KindTable,
		Template: tmpl("SELECT 1 AS one"),
	}, run, false)

	assert.Equal(t, core.ModelStatusSucceeded, result.Status)
	assert.False(t, block)
	assert.Equal(t, 1, wh.count(t, "SELECT COUNT(*) FROM committed"))
}
