package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/vanylaplus/go-launcher/cooldown"
	"github.com/vanylaplus/go-launcher/tui"
)

func wheelState(s cooldown.Status) string {
	switch {
	case s.Respin:
		return "respin available"
	case s.CanSpin:
		return "ready"
	default:
		return "next spin in " + s.Text
	}
}

func lastSpin(s cooldown.Status) string {
	if s.LastSpin.IsZero() {
		return "never"
	}
	return s.LastSpin.Local().Format("2006-01-02 15:04:05")
}

func newWheelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wheel",
		Short: "The daily fortune wheel cooldown",
	}

	status := &cobra.Command{
		Use:   "status [player]",
		Short: "Show whether a player may spin, or every known player",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				all, err := g.All(cmd.Context())
				if err != nil {
					return err
				}
				if len(all) == 0 {
					fmt.Fprintln(out, tui.Muted("nobody has spun yet"))
					return nil
				}
				players := make([]string, 0, len(all))
				for k := range all {
					players = append(players, k)
				}
				slices.Sort(players)
				rows := make([][]string, 0, len(players))
				for _, p := range players {
					rows = append(rows, []string{p, lastSpin(all[p]), wheelState(all[p])})
				}
				tui.Table(out, []string{"PLAYER", "LAST SPIN", "STATE"}, rows)
				return nil
			}

			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			last, err := g.LastSpin(cmd.Context(), key)
			if err != nil {
				return err
			}
			respin, err := g.HasRespin(cmd.Context(), key)
			if err != nil {
				return err
			}
			remaining, err := g.Remaining(cmd.Context(), key)
			if err != nil {
				return err
			}
			s := cooldown.Status{LastSpin: last, Respin: respin, Remaining: remaining}
			tui.Banner(out, tui.Title("Fortune wheel"), fmt.Sprintf("%s\nlast spin: %s\n%s",
				tui.Highlight(key), lastSpin(s), wheelState(s)))
			return nil
		},
	}

	spin := &cobra.Command{
		Use:   "spin <player>",
		Short: "Spend a spin if the player is allowed one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			won, _ := cmd.Flags().GetBool("respin")
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			allowed, err := g.Allowed(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !allowed {
				remaining, err := g.Remaining(cmd.Context(), key)
				if err != nil {
					return err
				}
				return fmt.Errorf("%s cannot spin yet, next spin in %s", key, remaining.Text)
			}
			if err := g.Complete(cmd.Context(), key, won); err != nil {
				return err
			}
			if won {
				tui.ShowSuccess(cmd.OutOrStdout(), "%s spun and won a respin", key)
				return nil
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "%s spun, next spin in %s", key, cooldown.DurationText(g.Cooldown()))
			return nil
		},
	}
	spin.Flags().Bool("respin", false, "the wheel landed on a respin reward")

	complete := &cobra.Command{
		Use:   "complete <player> <respin>",
		Short: "Record a spin outcome without checking the cooldown",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			respin, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid respin value %q: expected true or false", args[1])
			}
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.Complete(cmd.Context(), key, respin); err != nil {
				return err
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "recorded spin for %s (respin=%t)", key, respin)
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <player>",
		Short: "Let a player spin again immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := playerID(args[0])
			if err != nil {
				return err
			}
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.Reset(cmd.Context(), key); err != nil {
				return err
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "cooldown reset for %s", key)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cooldown and respin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := confirm(cmd, "Remove every wheel cooldown and respin?"); err != nil || !ok {
				return err
			}
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			n, err := g.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "removed %d wheel entries", n)
			return nil
		},
	}
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(status, spin, complete, reset, clearCmd)
	return cmd
}
