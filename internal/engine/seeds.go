package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"
)

// LoadSeeds loads every CSV file in the configured seeds directory
// into a warehouse table named after the file.
func (e *Engine) LoadSeeds(ctx context.Context) error {
	if e.seedsDir == "" {
		return nil
	}

	if err := e.ensureDBConnected(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(e.seedsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read seeds directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}

		tableName := strings.TrimSuffix(entry.Name(), ".csv")
		csvPath := filepath.Join(e.seedsDir, entry.Name())

		e.logger.Debug("loading seed file",
			slog.String("table", tableName), slog.String("path", csvPath))

		if err := e.db.LoadCSV(ctx, tableName, csvPath); err != nil {
			return fmt.Errorf("failed to load seed %s: %w", entry.Name(), err)
		}
	}
	return nil
}
