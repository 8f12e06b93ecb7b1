package main

import (
	"github.com/spf13/cobra"
	"github.com/vanylaplus/go-launcher/tui"
)

var askFunc = tui.Ask

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "launcherctl",
		Short:         "Inspect and manage launcher balances, tokens, the fortune wheel and cached assets",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("api-url", "", "launcher backend base url")
	flags.String("store", "", "state store: memory, sqlite or redis")
	flags.String("log-level", "", "log level: trace, debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("otlp-url", "", "OTLP collector url for log export")
	flags.String("otlp-token", "", "bearer token for the OTLP collector")
	flags.Bool("no-telemetry", false, "disable log export")

	root.AddCommand(newBalanceCmd(a), newTokensCmd(a), newWheelCmd(a), newAssetsCmd(a))
	return root
}

// confirm asks before a destructive command unless --yes was given. A
// refusal is reported on stderr.
func confirm(cmd *cobra.Command, title string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	ok, err := askFunc(title, false)
	if err != nil {
		return false, err
	}
	if !ok {
		tui.ShowWarning(cmd.ErrOrStderr(), "aborted, nothing was changed (pass --yes to skip the prompt)")
	}
	return ok, nil
}
