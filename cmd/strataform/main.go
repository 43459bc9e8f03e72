// Package main is the strataform command-line entrypoint.
package main

import (
	"os"

	"github.com/strataform/strataform/internal/cli"

	_ "github.com/strataform/strataform/pkg/adapters/duckdb"
	_ "github.com/strataform/strataform/pkg/adapters/postgres"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
