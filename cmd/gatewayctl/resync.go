package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/superparser/gateway-control/internal/service"
	"github.com/superparser/gateway-control/internal/util"
)

func newResyncCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <email>",
		Short: "Push an account's current subscription to the gateway now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := d.operator.ResyncByEmail(cmd.Context(), util.NormalizeEmail(args[0]))
			if err != nil {
				return err
			}
			return reportOutcome(cmd, outcome)
		},
	}
}

func newDeactivateCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <email>",
		Short: "Deactivate an account and remove its gateway consumer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := d.operator.DeactivateAccount(cmd.Context(), util.NormalizeEmail(args[0]))
			if err != nil {
				return err
			}
			return reportOutcome(cmd, outcome)
		},
	}
}

func newResyncFailedCmd(d *deps) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "resync-failed",
		Short: "Requeue every failed or dead-lettered account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			queued, err := d.operator.ResyncFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued %d account(s) for reconciliation\n", queued)
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum number of accounts to requeue")
	return cmd
}

// reportOutcome prints the outcome and fails the command when the gateway
// was not updated, so scripts can check the exit status.
func reportOutcome(cmd *cobra.Command, outcome *service.SyncOutcome) error {
	if err := writeJSON(cmd, outcome); err != nil {
		return err
	}
	if outcome.Failed() {
		return outcome.AppError()
	}
	return nil
}
