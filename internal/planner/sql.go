package planner

import (
	"fmt"
	"strings"
)

// Statement builders for the materialization strategies. The engine
// issues these through the tabular execution interface; nothing here
// parses or validates SQL.

// StageSuffix names the staging table a build writes into before the
// target is touched.
const StageSuffix = "__stage"

// StageName returns the staging table name for a target table.
func StageName(table string) string {
	return table + StageSuffix
}

// CreateTableAs builds a CREATE TABLE ... AS statement. Clustering
// hints are advisory and passed through as a hint comment for the
// warehouse to interpret or ignore.
func CreateTableAs(table, query string, clusterBy []string) string {
	hint := ""
	if len(clusterBy) > 0 {
		hint = fmt.Sprintf(" /*+ cluster_by(%s) */", strings.Join(clusterBy, ", "))
	}
	return fmt.Sprintf("CREATE TABLE %s%s AS %s", table, hint, query)
}

// DropTable builds a DROP TABLE IF EXISTS statement.
func DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
}

// DropView builds a DROP VIEW IF EXISTS statement.
func DropView(view string) string {
	return fmt.Sprintf("DROP VIEW IF EXISTS %s", view)
}

// CreateView builds a CREATE VIEW statement.
func CreateView(view, query string) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s", view, query)
}

// RenameTable builds an ALTER TABLE ... RENAME TO statement. The new
// name is unqualified; renames stay within the table's schema.
func RenameTable(table, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", table, newName)
}

// Unqualified strips a leading schema qualifier from a table name.
func Unqualified(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[i+1:]
	}
	return table
}

// DeleteMatching builds the delete half of a merge: removes target
// rows whose unique key matches a staged row. Unmatched target rows
// are never touched; incremental merge has no delete detection.
func DeleteMatching(target, stage string, uniqueKey []string) string {
	conds := make([]string, len(uniqueKey))
	for i, col := range uniqueKey {
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", stage, col, target, col)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE EXISTS (SELECT 1 FROM %s WHERE %s)",
		target, stage, strings.Join(conds, " AND "))
}

// InsertFrom builds the insert half of a merge.
func InsertFrom(target, stage string) string {
	return fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", target, stage)
}

// CountRows builds a row-count query.
func CountRows(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
}

// MaxValue builds a query for the maximum value of a column, used to
// observe the new watermark among staged rows.
func MaxValue(table, column string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", column, table)
}
