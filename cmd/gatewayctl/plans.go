package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/superparser/gateway-control/internal/model"
)

func newPlansCmd(d *deps) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage the plan catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List plans in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plans, err := d.catalog.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list plans: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, plans)
			}
			return printPlans(cmd, plans)
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Upsert the configured catalog (PLAN_CATALOG_FILE or built-in tiers)",
		Long:  "Upserts plans by name. Existing subscriptions pick up changed limits on their next resync.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs, err := d.plans()
			if err != nil {
				return err
			}
			plans, err := d.catalog.Apply(cmd.Context(), specs)
			if err != nil {
				return fmt.Errorf("apply plans: %w", err)
			}
			return printPlans(cmd, plans)
		},
	}

	cmd.AddCommand(listCmd, syncCmd)
	return cmd
}

func printPlans(cmd *cobra.Command, plans []model.Plan) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tQUOTA\tRATE\tPRICE\tOVERAGE")
	for _, p := range plans {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\n", p.Name, p.MonthlyQuota, p.RateLimit, p.Price, p.OveragePrice)
	}
	return tw.Flush()
}
