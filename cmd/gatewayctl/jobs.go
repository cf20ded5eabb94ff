package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/superparser/gateway-control/internal/model"
)

func newJobsCmd(d *deps) *cobra.Command {
	var (
		status string
		limit  int
		offset int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List reconcile jobs by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := model.JobStatus(status)
			if !st.Valid() {
				return fmt.Errorf("--status must be one of pending, done, dead")
			}

			ctx := cmd.Context()
			jobs, err := d.jobs.FindByStatus(ctx, st, limit, offset)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			counts, err := d.jobs.CountByStatus(ctx)
			if err != nil {
				return fmt.Errorf("count jobs: %w", err)
			}

			if asJSON {
				return writeJSON(cmd, map[string]any{"jobs": jobs, "counts": counts})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pending: %d  done: %d  dead: %d\n\n",
				counts[model.JobStatusPending], counts[model.JobStatusDone], counts[model.JobStatusDead])

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT\tREASON\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
			for _, job := range jobs {
				lastErr := ""
				if job.LastError != nil {
					lastErr = *job.LastError
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					job.AccountID, job.Reason, job.Attempts, job.NextAttemptAt.UTC().Format(time.RFC3339), lastErr)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", string(model.JobStatusDead), "job status: pending, done or dead")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
