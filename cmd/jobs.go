package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the recompute job log",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recompute jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		company, _ := cmd.Flags().GetString("company")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(ctx, store.JobFilter{
			CompanyID: company,
			State:     model.JobState(state),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No jobs found.")
			return nil
		}
		formatJobsList(cmd.OutOrStdout(), jobs)
		return nil
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count jobs per state over a trailing window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		hours, _ := cmd.Flags().GetInt("hours")

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		counts, err := env.Store.CountJobs(ctx, time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}
		formatJobCounts(cmd.OutOrStdout(), counts, hours)
		return nil
	},
}

func formatJobsList(w io.Writer, jobs []model.RecomputeJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMPANY\tPERIOD\tSTART\tSTATE\tTRIGGER\tATTEMPTS\tELAPSED\tERROR")
	for _, j := range jobs {
		elapsed := "-"
		if j.CompletedAt != nil {
			elapsed = j.CompletedAt.Sub(j.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := j.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(j.ID), j.CompanyID, j.Period, j.PeriodStart.Format(time.DateOnly),
			j.State, j.Trigger, j.Attempts, elapsed, errMsg)
	}
	tw.Flush()
}

func formatJobCounts(w io.Writer, counts map[model.JobState]int, hours int) {
	fmt.Fprintf(w, "Jobs in the last %dh\n", hours)
	total := 0
	for _, s := range []model.JobState{model.JobRequested, model.JobRunning, model.JobSucceeded, model.JobFailedFallback, model.JobFailed} {
		fmt.Fprintf(w, "  %-16s %d\n", s, counts[s])
		total += counts[s]
	}
	fmt.Fprintf(w, "  %-16s %d\n", "total", total)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	jobsListCmd.Flags().String("company", "", "filter by company ID")
	jobsListCmd.Flags().String("state", "", "filter by state")
	jobsListCmd.Flags().Int("limit", 50, "maximum number of jobs")

	jobsStatsCmd.Flags().Int("hours", 24, "lookback window in hours")

	jobsCmd.AddCommand(jobsListCmd, jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}
