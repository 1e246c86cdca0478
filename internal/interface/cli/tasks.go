package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/domain/task"
)

func (a *App) tasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task", "t"},
		Short:   "Manage tasks",
	}
	cmd.AddCommand(
		a.tasksListCommand(),
		a.tasksAddCommand(),
		a.tasksEditCommand(),
		a.tasksRemoveCommand(),
		a.tasksResolveCommand("done", "Complete a task and earn its XP", task.StatusCompleted),
		a.tasksResolveCommand("fail", "Fail a task and take the penalty", task.StatusFailed),
		a.tasksResolveCommand("abandon", "Abandon a task and take the smaller penalty", task.StatusAbandoned),
	)
	return cmd
}

// ─── tasks list ─────────────────────────────────────────────────────────────

func (a *App) tasksListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := task.Filter{Status: task.Status(strings.ToLower(status))}
			if f.Status != "" && !f.Status.IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			tasks := eng.ListTasks(f)
			if tasks == nil {
				tasks = []*task.Task{}
			}
			return a.emit(cmd, tasks, func(w io.Writer) error {
				if len(tasks) == 0 {
					_, err := fmt.Fprintln(w, "No tasks.")
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tXP\tTITLE")
				for _, t := range tasks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Status, t.Priority, t.XPReward, t.Title)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (active, completed, failed, abandoned)")
	return cmd
}

// ─── tasks add ──────────────────────────────────────────────────────────────

func (a *App) tasksAddCommand() *cobra.Command {
	var (
		xp       int
		priority string
	)
	cmd := &cobra.Command{
		Use:   "add TITLE",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			t, err := eng.CreateTask(cmd.Context(), args[0], xp, task.Priority(strings.ToLower(priority)))
			if err != nil {
				return err
			}
			return a.emit(cmd, t, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Created %s: %s (%d XP, %s)\n", t.ID, t.Title, t.XPReward, t.Priority)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&xp, "xp", 10, "XP reward")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(task.PriorityMedium), "Priority (low, medium, high)")
	return cmd
}

// ─── tasks edit ─────────────────────────────────────────────────────────────

func (a *App) tasksEditCommand() *cobra.Command {
	var (
		title    string
		xp       int
		priority string
	)
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change an active task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u task.Update
			if cmd.Flags().Changed("title") {
				u.Title = &title
			}
			if cmd.Flags().Changed("xp") {
				u.XPReward = &xp
			}
			if cmd.Flags().Changed("priority") {
				p := task.Priority(strings.ToLower(priority))
				u.Priority = &p
			}
			if u.Title == nil && u.XPReward == nil && u.Priority == nil {
				return fmt.Errorf("nothing to change: pass --title, --xp or --priority")
			}

			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			t, err := eng.UpdateTask(cmd.Context(), args[0], u)
			if err != nil {
				return err
			}
			return a.emit(cmd, t, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Updated %s: %s (%d XP, %s)\n", t.ID, t.Title, t.XPReward, t.Priority)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().IntVar(&xp, "xp", 0, "New XP reward")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "New priority")
	return cmd
}

// ─── tasks rm ───────────────────────────────────────────────────────────────

func (a *App) tasksRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a task without touching XP",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			if err := eng.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.emit(cmd, map[string]string{"deleted": args[0]}, nil)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return err
		},
	}
}

// ─── tasks done / fail / abandon ────────────────────────────────────────────

func (a *App) tasksResolveCommand(use, short string, to task.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}

			var res *engine.ApplyResult
			switch to {
			case task.StatusCompleted:
				res = eng.CompleteTask(cmd.Context(), args[0])
			case task.StatusFailed:
				res = eng.FailTask(cmd.Context(), args[0])
			default:
				res = eng.AbandonTask(cmd.Context(), args[0])
			}
			if res == nil {
				return fmt.Errorf("task %s was not %s: unknown, already resolved, or the ledger is busy", args[0], to)
			}
			return a.emit(cmd, res, func(w io.Writer) error {
				return writeResult(w, res)
			})
		},
	}
}

func writeResult(w io.Writer, res *engine.ApplyResult) error {
	if res.Queued {
		_, err := fmt.Fprintln(w, "Queued behind a running penalty.")
		return err
	}
	line := fmt.Sprintf("%+d XP", res.Amount)
	if res.BonusType != nil {
		line += fmt.Sprintf(" (%s bonus)", *res.BonusType)
	}
	if res.Message != "" {
		line += ": " + res.Message
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	switch {
	case res.LeveledUp && res.NewLevel != nil:
		_, err := fmt.Fprintf(w, "Level up! Now level %d.\n", *res.NewLevel)
		return err
	case res.LeveledDown && res.NewLevel != nil:
		_, err := fmt.Fprintf(w, "Demoted to level %d.\n", *res.NewLevel)
		return err
	}
	return nil
}
