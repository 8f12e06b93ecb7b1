package main

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vanylaplus/go-launcher/assets"
	"github.com/vanylaplus/go-launcher/tui"
)

func newAssetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Launcher images and stylesheets, prefetched into the local store",
	}

	preload := &cobra.Command{
		Use:   "preload [view]...",
		Short: "Download the assets of the given views, or of every startup view",
		Long:  "Download the assets of the given views into the store. Without arguments the startup views and the shared images are preloaded. Known views: " + strings.Join(assets.ViewNames(), ", ") + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.prefetcher(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				err = p.PreloadCritical(cmd.Context())
			} else {
				for _, view := range args {
					if _, ok := assets.Views[view]; !ok {
						return errors.Wrapf(assets.ErrUnknownView, "%q, expected one of %s", view, strings.Join(assets.ViewNames(), ", "))
					}
				}
				var errs []error
				for _, view := range args {
					errs = append(errs, p.PreloadView(cmd.Context(), view))
				}
				err = errors.Join(errs...)
			}
			if err != nil {
				for _, line := range strings.Split(err.Error(), "\n") {
					tui.ShowWarning(cmd.ErrOrStderr(), "%s", line)
				}
			}
			return printAssetStats(cmd, p)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print how many assets are cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.prefetcher(cmd.Context())
			if err != nil {
				return err
			}
			return printAssetStats(cmd, p)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every cached asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := confirm(cmd, "Forget every cached asset?"); err != nil || !ok {
				return err
			}
			p, err := a.prefetcher(cmd.Context())
			if err != nil {
				return err
			}
			n, err := p.ClearCache(cmd.Context())
			if err != nil {
				return err
			}
			tui.ShowSuccess(cmd.OutOrStdout(), "removed %d cached assets", n)
			return nil
		},
	}
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(preload, stats, clearCmd)
	return cmd
}

func printAssetStats(cmd *cobra.Command, p *assets.Prefetcher) error {
	st, err := p.Stats(cmd.Context())
	if err != nil {
		return err
	}
	tui.Table(cmd.OutOrStdout(), []string{"LOADED", "PENDING"}, [][]string{{strconv.Itoa(st.Loaded), strconv.Itoa(st.Pending)}})
	return nil
}
