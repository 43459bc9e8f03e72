// Package adapter provides the warehouse adapter contract and shared
// database/sql plumbing for Strataform's execution engine.
//
// The contract itself (core.Adapter) and its supporting types live in
// pkg/core; this package re-exports them for convenience and hosts the
// adapter registry plus a base implementation concrete adapters embed.
// Concrete adapters are in pkg/adapters/ subdirectories.
package adapter

import (
	"github.com/strataform/strataform/pkg/core"
)

// Type aliases so adapter implementations don't need to import
// pkg/core directly.
type (
	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter

	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)
