package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/vanylaplus/go-launcher/ledger"
	"github.com/vanylaplus/go-launcher/tui"
)

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

// ledgerCommand builds a "<verb> <player> <amount>" command around op.
func ledgerCommand(a *app, use, short string, op func(l *ledger.Ledger, ctx context.Context, key string, amount int64) (int64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <player> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			n, err := op(l, cmd.Context(), key, amount)
			if err != nil {
				return err
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "%s now has %s tokens", key, a.format(n))
			return nil
		},
	}
}

func newTokensCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "The local token ledger",
	}

	get := &cobra.Command{
		Use:   "get <player>",
		Short: "Print a player's local token balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			n, err := l.Balance(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, tui.Amount(a.format(n)))
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <player>",
		Short: "Set a player's tokens to zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := l.Reset(cmd.Context(), key); err != nil {
				return err
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "%s reset to 0 tokens", key)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every player in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			all, err := l.All(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), tui.Muted("ledger is empty"))
				return nil
			}
			players := make([]string, 0, len(all))
			for k := range all {
				players = append(players, k)
			}
			slices.Sort(players)
			rows := make([][]string, 0, len(players))
			for _, p := range players {
				rows = append(rows, []string{p, a.format(all[p])})
			}
			tui.Table(cmd.OutOrStdout(), []string{"PLAYER", "TOKENS"}, rows)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every ledger balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := confirm(cmd, "Delete every token balance?"); err != nil || !ok {
				return err
			}
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			n, err := l.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "removed %d balances", n)
			return nil
		},
	}
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(
		get,
		ledgerCommand(a, "set", "Set a player's tokens", (*ledger.Ledger).Set),
		ledgerCommand(a, "add", "Credit tokens to a player", (*ledger.Ledger).Add),
		ledgerCommand(a, "remove", "Debit tokens from a player, never below zero", (*ledger.Ledger).Remove),
		reset,
		list,
		clearCmd,
	)
	return cmd
}
