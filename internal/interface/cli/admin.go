//go:build !production

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
)

// ErrBadPassphrase is returned when the admin passphrase does not match.
var ErrBadPassphrase = errors.New("admin passphrase rejected")

// registerAdmin adds the debug commands. Production builds leave them out
// entirely; the engine still refuses them unless the admin feature is on.
func registerAdmin(a *App) {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Debug commands that rewrite XP and level",
		Long: `Debug commands that bypass the ledger lock and the normal rules.

They need GRINDSTONE_FEATURE_ADMIN=true. When GRINDSTONE_ADMIN_PASSPHRASE_HASH
holds a bcrypt hash, the passphrase is read from stdin first.`,
	}
	cmd.AddCommand(
		a.adminCommand("xp AMOUNT", "Add (or with a negative amount, remove) XP", cobra.ExactArgs(1),
			func(cmd *cobra.Command, eng *engine.Engine, args []string) (*engine.ApplyResult, error) {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return nil, fmt.Errorf("amount: %w", err)
				}
				return eng.AddXP(cmd.Context(), n)
			}),
		a.adminCommand("level N", "Move total XP to the start of level N", cobra.ExactArgs(1),
			func(cmd *cobra.Command, eng *engine.Engine, args []string) (*engine.ApplyResult, error) {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return nil, fmt.Errorf("level: %w", err)
				}
				return eng.SetLevel(cmd.Context(), n)
			}),
		a.adminCommand("demote", "Drop one level and apply the demotion penalty", cobra.NoArgs,
			func(cmd *cobra.Command, eng *engine.Engine, _ []string) (*engine.ApplyResult, error) {
				return eng.ForceDemote(cmd.Context())
			}),
		a.adminResetCommand(),
	)
	a.root.AddCommand(cmd)
}

type adminFunc func(cmd *cobra.Command, eng *engine.Engine, args []string) (*engine.ApplyResult, error)

func (a *App) adminCommand(use, short string, args cobra.PositionalArgs, fn adminFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.adminEngine(cmd)
			if err != nil {
				return err
			}
			res, err := fn(cmd, eng, args)
			if err != nil {
				return err
			}
			if res == nil {
				return fmt.Errorf("change not applied")
			}
			return a.emit(cmd, res, func(w io.Writer) error {
				return writeResult(w, res)
			})
		},
	}
}

func (a *App) adminResetCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase all progress, tasks and achievements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			eng, err := a.adminEngine(cmd)
			if err != nil {
				return err
			}
			if err := eng.ResetAll(cmd.Context()); err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.emit(cmd, eng.State(), nil)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "All state reset.")
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

// adminEngine opens the engine and checks the passphrase when one is
// configured.
func (a *App) adminEngine(cmd *cobra.Command) (*engine.Engine, error) {
	eng, err := a.engine(cmd)
	if err != nil {
		return nil, err
	}
	hash := a.rt.Config.Admin.PassphraseHash
	if hash == "" {
		return eng, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Admin passphrase: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr())

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimRight(line, "\r\n"))) != nil {
		return nil, ErrBadPassphrase
	}
	return eng, nil
}
