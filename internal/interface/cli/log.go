package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
)

func (a *App) logCommand() *cobra.Command {
	var (
		limit   int
		archive bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent XP transactions",
		Long: `Show recent XP transactions, oldest first.

The in-memory log keeps the newest entries only; --archive reads the full
history from the sqlite or postgres store instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}

			var txs []ledger.Transaction
			if archive {
				txs, err = eng.History(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("read archive: %w", err)
				}
			} else {
				txs = eng.Transactions(limit)
			}
			if txs == nil {
				txs = []ledger.Transaction{}
			}

			return a.emit(cmd, txs, func(w io.Writer) error {
				if len(txs) == 0 {
					_, err := fmt.Fprintln(w, "No transactions.")
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tXP\tBONUS\tTOTAL\tSOURCE")
				for _, tx := range txs {
					bonus := "-"
					if tx.BonusType != nil {
						bonus = string(*tx.BonusType)
					}
					fmt.Fprintf(tw, "%s\t%+d\t%s\t%d\t%s\n",
						tx.Timestamp.Format(time.DateTime), tx.TotalAmount, bonus, tx.NewXP, tx.Source)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transactions")
	cmd.Flags().BoolVar(&archive, "archive", false, "Read from the transaction archive")
	return cmd
}
