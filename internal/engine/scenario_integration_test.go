//go:build integration

package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataform/strataform/pkg/adapters/duckdb"
	"github.com/strataform/strataform/pkg/core"
)

// End-to-end medallion pipeline against a real DuckDB database:
// raw orders -> staging view -> enriched incremental -> daily mart.
func TestScenario_MedallionPipeline(t *testing.T) {
	ctx := context.Background()

	wh := duckdb.New(nil)
	require.NoError(t, wh.Connect(ctx, core.AdapterConfig{Type: "duckdb", Path: ":memory:"}))
	t.Cleanup(func() { _ = wh.Close() })

	// Watermark values round-trip as text; a VARCHAR column keeps the
	// stored watermark byte-identical to what the filter embeds.
	require.NoError(t, wh.Exec(ctx, `CREATE TABLE raw_orders (
		order_id INTEGER, customer_id INTEGER, amount DOUBLE,
		status VARCHAR, updated_at VARCHAR)`))
	require.NoError(t, wh.Exec(ctx, `INSERT INTO raw_orders VALUES
		(1, 100, 25.0, 'placed',  '2025-06-01 10:00:00'),
		(2, 100, 40.0, 'shipped', '2025-06-01 14:00:00'),
		(3, 200, 15.0, 'placed',  '2025-06-02 09:00:00')`))

	eng, err := New(Config{
		Adapter:   wh,
		StatePath: filepath.Join(t.TempDir(), "state.db"),
		Workers:   2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	eng.RegisterSource(&core.Source{Namespace: "raw", Name: "raw_orders"})

	require.NoError(t, eng.Register(&core.Model{
		Name:       "stg_orders",
		Kind:       core.KindView,
		References: []string{"raw.raw_orders"},
		Template: tmpl(`SELECT order_id, customer_id, amount, status,
			updated_at FROM raw_orders WHERE status <> 'cancelled'`),
		Assertions: []core.AssertionConfig{
			{NotNull: []string{"order_id"}},
			{Unique: []string{"order_id"}},
		},
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name:            "int_orders_enriched",
		Kind:            core.KindIncremental,
		Strategy:        core.StrategyMerge,
		UniqueKey:       []string{"order_id"},
		WatermarkColumn: "updated_at",
		References:      []string{"stg_orders"},
		Template: filterTmpl(`SELECT order_id, customer_id, amount,
			status, updated_at, amount * 0.1 AS fee FROM stg_orders WHERE %s`),
	}))
	require.NoError(t, eng.Register(&core.Model{
		Name:       "mart_sales_daily",
		Kind:       core.KindTable,
		References: []string{"int_orders_enriched"},
		Template: tmpl(`SELECT substr(updated_at, 1, 10) AS day,
			SUM(amount) AS revenue, COUNT(*) AS orders
			FROM int_orders_enriched GROUP BY 1`),
	}))

	report, err := eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, core.RunStatusCompleted, report.Status)

	enriched := report.Result("int_orders_enriched")
	assert.True(t, enriched.FullRebuild)
	assert.EqualValues(t, 3, enriched.RowsAffected)

	count := func(query string) int {
		rows, err := wh.Query(ctx, query)
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()
		require.True(t, rows.Next())
		var n int
		require.NoError(t, rows.Scan(&n))
		return n
	}
	assert.Equal(t, 3, count("SELECT COUNT(*) FROM int_orders_enriched"))
	assert.Equal(t, 2, count("SELECT COUNT(*) FROM mart_sales_daily"))

	// Late correction plus a new order. The second run merges the
	// changed rows without duplicating order 2.
	require.NoError(t, wh.Exec(ctx, `UPDATE raw_orders
		SET status = 'delivered', updated_at = '2025-06-03 08:00:00'
		WHERE order_id = 2`))
	require.NoError(t, wh.Exec(ctx, `INSERT INTO raw_orders VALUES
		(4, 200, 60.0, 'placed', '2025-06-03 12:00:00')`))

	report, err = eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, core.RunStatusCompleted, report.Status)

	enriched = report.Result("int_orders_enriched")
	assert.False(t, enriched.FullRebuild)

	assert.Equal(t, 4, count("SELECT COUNT(*) FROM int_orders_enriched"))
	assert.Equal(t, 1, count("SELECT COUNT(*) FROM int_orders_enriched WHERE order_id = 2 AND status = 'delivered'"))

	wm, err := eng.Store().GetWatermark("int_orders_enriched")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "2025-06-03 12:00:00", wm.Watermark)
}
