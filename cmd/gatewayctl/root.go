package main

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newRootCmd(wire wireFunc) *cobra.Command {
	d := &deps{}
	var closeFn func()

	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Operate the gateway subscription control plane",
		Long:          "gatewayctl drives reconciliation between the subscription ledger and the API gateway: resync accounts, inspect the retry queue, provision metered routes and manage the plan catalog.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			wired, closer, err := wire(cmd.Context())
			if err != nil {
				return err
			}
			*d = *wired
			closeFn = closer
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if closeFn != nil {
				closeFn()
			}
		},
	}

	rootCmd.AddCommand(
		newResyncCmd(d),
		newResyncFailedCmd(d),
		newDeactivateCmd(d),
		newJobsCmd(d),
		newRoutesCmd(d),
		newPlansCmd(d),
	)

	return rootCmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
