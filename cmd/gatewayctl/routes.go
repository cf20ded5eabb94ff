package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRoutesCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect and provision metered gateway routes",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show the routes the gateway should have",
			RunE: func(cmd *cobra.Command, _ []string) error {
				for _, route := range d.routes.DesiredRoutes() {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s/*\n", route.ID, route.PathPrefix); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Upsert every metered route on the gateway",
			RunE: func(cmd *cobra.Command, _ []string) error {
				ids, err := d.routes.EnsureRoutes(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s\n", id); err != nil {
						return err
					}
				}
				return nil
			},
		},
	)
	return cmd
}
