// Package config loads project configuration for strataform from
// defaults, the project config file, environment variables, and CLI
// flags, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/strataform/strataform/pkg/adapter"
	"github.com/strataform/strataform/pkg/core"
)

// TargetConfig holds warehouse target configuration.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres

	// Path is the database file for file-based backends; ":memory:"
	// for in-memory.
	Path string `koanf:"path"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Schema is the default schema for unqualified table names.
	Schema string `koanf:"schema"`

	// Options carries driver-specific settings.
	Options map[string]string `koanf:"options"`
}

// Validate checks the target against the adapter registry.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	registered := adapter.List()
	for _, name := range registered {
		if name == strings.ToLower(t.Type) {
			return nil
		}
	}
	return fmt.Errorf("unknown target type %q, available: %s", t.Type, strings.Join(registered, ", "))
}

// ToAdapterConfig converts the target into the engine's adapter
// configuration.
func (t *TargetConfig) ToAdapterConfig() core.AdapterConfig {
	return core.AdapterConfig{
		Type:     strings.ToLower(t.Type),
		Path:     t.Path,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
		Options:  t.Options,
	}
}

// Config is the full project configuration.
type Config struct {
	// ProjectRoot is the directory all relative paths resolve against.
	ProjectRoot string `koanf:"-"`

	ModelsDir string `koanf:"models_dir"`
	SeedsDir  string `koanf:"seeds_dir"`

	// StatePath is the pipeline state database file.
	StatePath string `koanf:"state_path"`

	// Workers bounds concurrent model builds.
	Workers int `koanf:"workers"`

	// Lookback is the default incremental lookback window, as a Go
	// duration string in the config file.
	Lookback time.Duration `koanf:"lookback"`

	Target *TargetConfig `koanf:"target"`

	Verbose bool `koanf:"verbose"`
}
