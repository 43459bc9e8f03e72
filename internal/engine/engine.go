// Package engine orchestrates pipeline runs: it resolves the model
// dependency graph, schedules execution across a fixed-size worker
// pool, applies the per-model materialization strategy, runs
// post-build assertions, and aggregates everything into a run report.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/strataform/strataform/internal/registry"
	"github.com/strataform/strataform/internal/state"
	"github.com/strataform/strataform/pkg/adapter"
	"github.com/strataform/strataform/pkg/core"
)

// DefaultWorkers is the worker pool size applied when the
// configuration doesn't set one.
const DefaultWorkers = 4

// Engine executes transformation pipelines.
type Engine struct {
	// Warehouse adapter, connected lazily on first run.
	db          core.Adapter
	dbCfg       core.AdapterConfig
	dbConnected bool
	dbMu        sync.Mutex

	logger   *slog.Logger
	store    core.Store
	registry *registry.Registry
	workers  int
	seedsDir string

	// ownsStore is true when the engine opened the store itself and
	// should close it.
	ownsStore bool
}

// Config holds engine configuration.
type Config struct {
	// Adapter is a pre-built warehouse adapter. When nil, one is
	// created from AdapterConfig and connected lazily.
	Adapter core.Adapter

	// AdapterConfig selects and configures the warehouse adapter when
	// Adapter is nil.
	AdapterConfig core.AdapterConfig

	// Store is a pre-built state store. When nil, a SQLite store is
	// opened at StatePath.
	Store core.Store

	// StatePath is the SQLite state database path. Used only when
	// Store is nil.
	StatePath string

	// Workers is the worker pool size; zero means DefaultWorkers.
	Workers int

	// SeedsDir is an optional directory of CSV seed files loaded into
	// source tables before a run.
	SeedsDir string

	// Logger is the structured logger. Nil discards.
	Logger *slog.Logger
}

// New creates an engine. The warehouse connection is deferred until
// Run or LoadSeeds needs it.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store := cfg.Store
	ownsStore := false
	if store == nil {
		s := state.NewSQLiteStore(logger)
		if err := s.Open(cfg.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to migrate state store: %w", err)
		}
		store = s
		ownsStore = true
	}

	db := cfg.Adapter
	connected := db != nil
	if db == nil {
		var err error
		db, err = adapter.New(cfg.AdapterConfig, logger)
		if err != nil {
			if ownsStore {
				_ = store.Close()
			}
			return nil, err
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	logger.Debug("initializing engine",
		slog.Int("workers", workers),
		slog.String("adapter", db.DialectName()))

	return &Engine{
		db:          db,
		dbCfg:       cfg.AdapterConfig,
		dbConnected: connected,
		logger:      logger,
		store:       store,
		registry:    registry.New(),
		workers:     workers,
		seedsDir:    cfg.SeedsDir,
		ownsStore:   ownsStore,
	}, nil
}

// Register adds a model definition.
func (e *Engine) Register(m *core.Model) error {
	return e.registry.Register(m)
}

// RegisterSource adds an external source definition.
func (e *Engine) RegisterSource(s *core.Source) {
	e.registry.RegisterSource(s)
}

// Registry exposes the model registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Store exposes the state store.
func (e *Engine) Store() core.Store {
	return e.store
}

// Close releases the warehouse connection and, when owned, the state
// store.
func (e *Engine) Close() error {
	var firstErr error
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			firstErr = err
		}
	}
	if e.ownsStore && e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ensureDBConnected connects the warehouse adapter on first use.
func (e *Engine) ensureDBConnected(ctx context.Context) error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	if e.dbConnected {
		return nil
	}
	if err := e.db.Connect(ctx, e.dbCfg); err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	e.dbConnected = true
	return nil
}
