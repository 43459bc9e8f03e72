package core

import (
	"context"
	"database/sql"
)

// Adapter is the tabular execution interface the engine issues
// compiled queries through. Backend failures surface as opaque errors
// which the engine maps to the affected model's failed state.
type Adapter interface {
	// Connect establishes a connection to the warehouse.
	Connect(ctx context.Context, cfg AdapterConfig) error

	// Close closes the connection and releases resources.
	Close() error

	// Exec executes a statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// GetTableMetadata retrieves column metadata for a table.
	GetTableMetadata(ctx context.Context, table string) (*TableMetadata, error)

	// LoadCSV loads a CSV file into a table, creating it with an
	// inferred schema when missing.
	LoadCSV(ctx context.Context, tableName, filePath string) error

	// DialectName names the SQL dialect, e.g. "duckdb" or "postgres".
	DialectName() string
}

// AdapterConfig holds warehouse connection settings.
type AdapterConfig struct {
	// Type selects the registered adapter, e.g. "duckdb", "postgres".
	Type string

	// Path is the database file for file-based backends; ":memory:"
	// for in-memory.
	Path string

	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Schema is the default schema for unqualified table names.
	Schema string

	// Options carries driver-specific settings.
	Options map[string]string
}

// Column describes one column of a warehouse table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// TableMetadata describes a warehouse table.
type TableMetadata struct {
	Schema  string
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in ordinal position order.
func (m *TableMetadata) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// Rows wraps sql.Rows to provide a consistent interface across
// adapters.
type Rows struct {
	*sql.Rows
}
