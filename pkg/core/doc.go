// Package core defines the shared domain types for Strataform's
// incremental transformation pipeline engine: models and their
// materialization metadata, sources, runs and per-model outcomes,
// watermark records, data-quality assertions, and the Store and
// Adapter contracts implemented elsewhere.
//
// The engine never interprets SQL. A model's transformation logic is an
// opaque, already-compiled query produced by an external collaborator
// and handed in through QueryTemplate; core types only carry the
// materialization metadata around it.
package core
