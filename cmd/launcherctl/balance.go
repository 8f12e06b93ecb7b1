package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vanylaplus/go-launcher/tui"
)

func newBalanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Remote token balances, cached locally",
	}

	get := &cobra.Command{
		Use:   "get <player>...",
		Short: "Print the balance of one or more players",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			m, err := a.balanceManager(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(args))
			for _, arg := range args {
				key, err := playerID(arg)
				if err != nil {
					return err
				}
				r := m.Lookup(cmd.Context(), key, refresh)
				rows = append(rows, []string{key, a.format(r.Balance), r.Origin.String()})
				if !r.Fresh() {
					tui.ShowWarning(cmd.ErrOrStderr(), "%s: remote unavailable, showing last known value (%s)", key, r.Err)
				}
			}
			tui.Table(cmd.OutOrStdout(), []string{"PLAYER", "BALANCE", "SOURCE"}, rows)
			return nil
		},
	}
	get.Flags().Bool("refresh", false, "skip the local cache")

	watch := &cobra.Command{
		Use:   "watch <player>",
		Short: "Poll a player's balance and print every update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt("count")
			m, err := a.balanceManager(cmd.Context())
			if err != nil {
				return err
			}

			updates := make(chan int64)
			defer m.StopPolling(key)
			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			m.StartPolling(key, func(balance int64) {
				select {
				case updates <- balance:
				case <-ctx.Done():
				}
			})

			out := cmd.OutOrStdout()
			interval := m.Config().PollingInterval
			for seen := 0; count <= 0 || seen < count; seen++ {
				select {
				case <-ctx.Done():
					return nil
				case balance := <-updates:
					if tui.HasTTY {
						tui.ClearScreen()
						tui.Banner(out, tui.Title("Balance"), fmt.Sprintf("%s\n%s\n%s",
							tui.Highlight(key), tui.Amount(a.format(balance)),
							tui.Muted(fmt.Sprintf("refreshing every %s, ctrl-c to stop", interval))))
						continue
					}
					fmt.Fprintf(out, "%s\t%s\n", key, a.format(balance))
				}
			}
			return nil
		},
	}
	watch.Flags().Int("count", 0, "exit after this many updates, 0 runs until interrupted")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every cached balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := confirm(cmd, "Forget every cached balance?"); err != nil || !ok {
				return err
			}
			m, err := a.balanceManager(cmd.Context())
			if err != nil {
				return err
			}
			m.ClearCache(cmd.Context())
			tui.ShowSuccess(cmd.OutOrStdout(), "balance cache cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(get, watch, clearCmd)
	return cmd
}
