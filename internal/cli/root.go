// Package cli provides the command-line interface for strataform.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/strataform/strataform/internal/config"
	"github.com/strataform/strataform/internal/engine"
	"github.com/strataform/strataform/internal/loader"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strataform",
		Short: "strataform - incremental transformation pipeline engine",
		Long: `strataform executes SQL transformation models in dependency order,
rebuilding each one fully or merging only the rows that changed since
its last successful run.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			var err error
			cfg, err = config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./strataform.yaml)")
	rootCmd.PersistentFlags().String("models-dir", "", "Path to models directory")
	rootCmd.PersistentFlags().String("seeds-dir", "", "Path to seeds directory")
	rootCmd.PersistentFlags().String("state", "", "Path to state database")
	rootCmd.PersistentFlags().Int("workers", 0, "Maximum concurrent model builds")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDAGCommand())
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// createEngine builds an engine from the loaded configuration and
// registers every model discovered in the models directory.
func createEngine(cfg *config.Config) (*engine.Engine, error) {
	stateDir := filepath.Dir(cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	eng, err := engine.New(engine.Config{
		AdapterConfig: cfg.Target.ToAdapterConfig(),
		StatePath:     cfg.StatePath,
		Workers:       cfg.Workers,
		SeedsDir:      cfg.SeedsDir,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	result, err := loader.LoadDirectory(cfg.ModelsDir)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	for _, s := range result.Sources {
		eng.RegisterSource(s)
	}
	for _, m := range result.Models {
		if cfg.Lookback > 0 && m.Lookback == 0 {
			m.Lookback = cfg.Lookback
		}
		if err := eng.Register(m); err != nil {
			_ = eng.Close()
			return nil, err
		}
	}
	return eng, nil
}
