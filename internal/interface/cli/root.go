// Package cli implements grindctl, the command line front end. Every command
// opens the configured store, acts on the engine and flushes on exit.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/bootstrap"
)

// Opener loads the engine for a command.
type Opener func(ctx context.Context) (*bootstrap.Runtime, error)

// App holds state shared by the commands of one invocation.
type App struct {
	open   Opener
	rt     *bootstrap.Runtime
	output string
	root   *cobra.Command
}

// New builds the command tree.
func New(open Opener) *App {
	a := &App{open: open}

	a.root = &cobra.Command{
		Use:   "grindctl",
		Short: "Track tasks, XP and streaks",
		Long: `grindctl drives the grindstone engine from the shell.

Commands act on the store configured through GRINDSTONE_* environment
variables, the same one the daemon uses.

Examples:
  grindctl status
  grindctl tasks add "Write report" --xp 50 --priority high
  grindctl tasks done 3f1c...
  grindctl log -n 10 -o json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOutput(a.output)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.Close(cmd.Context())
		},
	}
	a.root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "Output format (text, json)")

	a.root.AddCommand(
		a.statusCommand(),
		a.tasksCommand(),
		a.activityCommand(),
		a.logCommand(),
		a.achievementsCommand(),
		a.tickCommand(),
	)
	registerAdmin(a)
	return a
}

// Command returns the root command.
func (a *App) Command() *cobra.Command { return a.root }

// Execute runs the command tree and releases the engine even on failure.
func (a *App) Execute(ctx context.Context) error {
	err := a.root.ExecuteContext(ctx)
	if cerr := a.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// Close flushes and releases the engine if a command opened it.
func (a *App) Close(ctx context.Context) error {
	if a.rt == nil {
		return nil
	}
	rt := a.rt
	a.rt = nil
	if ctx == nil {
		ctx = context.Background()
	}
	return rt.Close(ctx)
}

func (a *App) engine(cmd *cobra.Command) (*engine.Engine, error) {
	if a.rt == nil {
		rt, err := a.open(cmd.Context())
		if err != nil {
			return nil, err
		}
		a.rt = rt
	}
	return a.rt.Engine, nil
}

// ───── Output ─────

func (a *App) jsonOutput() bool { return a.output == "json" }

// emit writes v as indented JSON, or calls text for the human format.
func (a *App) emit(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if a.jsonOutput() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func validateOutput(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text or json)", format)
}
