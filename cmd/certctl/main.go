// Package main provides the entry point for the certctl CLI.
package main

import (
	"context"
	"os"

	"github.com/swissborg/academic-certs/internal/cli"
)

func main() {
	ctx := context.Background()
	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
