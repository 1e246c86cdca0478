package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/punishment"
)

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show level, XP, streak and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			st := eng.State()
			return a.emit(cmd, st, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "Level %d\t%s\n", st.Level, progressBar(st.Progress, 20))
				fmt.Fprintf(tw, "Total XP\t%d\n", st.TotalXP)
				fmt.Fprintf(tw, "Today\t%d / %d XP for the streak\n", st.TodayXP, st.StreakMinDaily)
				fmt.Fprintf(tw, "Streak\t%d days (longest %d)\n", st.Streak, st.LongestStreak)
				fmt.Fprintf(tw, "Health\t%s\n", healthLine(st.Health, st.DyingSince, st.AsOf))
				fmt.Fprintf(tw, "Active tasks\t%d\n", st.ActiveTasks)
				fmt.Fprintf(tw, "Achievements\t%d\n", len(st.Achievements))
				if st.Busy {
					fmt.Fprintf(tw, "Ledger\tbusy\n")
				}
				return tw.Flush()
			})
		},
	}
}

func (a *App) achievementsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "achievements",
		Short: "List unlocked achievements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			unlocked := eng.Achievements()
			return a.emit(cmd, unlocked, func(w io.Writer) error {
				if len(unlocked) == 0 {
					_, err := fmt.Fprintln(w, "No achievements yet.")
					return err
				}
				for _, id := range unlocked {
					if _, err := fmt.Fprintln(w, id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (a *App) activityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "activity",
		Short: "Record activity and reset the idle timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			eng.RecordActivity()
			if a.jsonOutput() {
				return a.emit(cmd, map[string]bool{"recorded": true}, nil)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Activity recorded.")
			return err
		},
	}
}

// tickCommand runs the periodic checks once, for setups without the daemon.
func (a *App) tickCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run the day rollover, idle and health checks once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rolled := eng.RolloverDay(ctx)
			idle := eng.CheckIdle(ctx)
			health := eng.CheckHealth(ctx)

			out := struct {
				RolledOver bool              `json:"rolled_over"`
				IdleFor    string            `json:"idle_for"`
				IdleWarn   bool              `json:"idle_warn"`
				IdlePunish bool              `json:"idle_punish"`
				Health     punishment.Health `json:"health"`
			}{rolled, idle.IdleFor.Round(time.Second).String(), idle.Warn, idle.Punish, health}

			return a.emit(cmd, out, func(w io.Writer) error {
				if rolled {
					fmt.Fprintln(w, "New day started.")
				}
				switch {
				case idle.Punish:
					fmt.Fprintf(w, "Idle for %s: penalty applied.\n", out.IdleFor)
				case idle.Warn:
					fmt.Fprintf(w, "Idle for %s: get moving.\n", out.IdleFor)
				}
				_, err := fmt.Fprintf(w, "Health: %s\n", health)
				return err
			})
		},
	}
}

func progressBar(p ledger.Progress, width int) string {
	if p.LevelSpan <= 0 {
		return ""
	}
	filled := p.IntoLevel * width / p.LevelSpan
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %d/%d XP, %d to next",
		strings.Repeat("#", filled), strings.Repeat(".", width-filled),
		p.IntoLevel, p.LevelSpan, p.ToNextLevel)
}

func healthLine(h punishment.Health, dyingSince *time.Time, now time.Time) string {
	if h == punishment.HealthDying && dyingSince != nil {
		return fmt.Sprintf("%s for %s", h, now.Sub(*dyingSince).Round(time.Minute))
	}
	return string(h)
}
