// Package main is grindctl, the command line client for the grindstone engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindstone-hq/grindstone/config"
	"github.com/grindstone-hq/grindstone/internal/bootstrap"
	"github.com/grindstone-hq/grindstone/internal/interface/cli"
	"github.com/grindstone-hq/grindstone/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	app := cli.New(open)
	err := app.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "grindctl: %v\n", err)
		os.Exit(1)
	}
}

func open(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// Only warnings and errors; stdout belongs to command output.
	log := logger.New(logger.Options{
		Level:   "warn",
		Format:  "text",
		Output:  os.Stderr,
		Service: "grindctl",
	})
	return bootstrap.Open(ctx, cfg, log, bootstrap.Options{})
}
