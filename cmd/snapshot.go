package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/recompute"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Compute and inspect analytics snapshots",
}

// -- snapshot compute --

var snapshotComputeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute the snapshot for one company window (idempotent)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		company, _ := cmd.Flags().GetString("company")
		periodStr, _ := cmd.Flags().GetString("period")
		start, _ := cmd.Flags().GetString("start")
		align, _ := cmd.Flags().GetBool("align")

		period, err := model.ParsePeriod(periodStr)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		from, err := resolveStart(env.Durations, period, start, align, time.Now().UTC())
		if err != nil {
			return err
		}
		out, err := env.Recompute.ComputeSnapshot(ctx, model.NewSnapshotKey(company, period, from), recompute.TriggerOnDemand)
		if err != nil {
			return eris.Wrap(err, "snapshot compute")
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

// -- snapshot latest --

var snapshotLatestCmd = &cobra.Command{
	Use:   "latest <company-id>",
	Short: "Show the most recent snapshot of a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		periodStr, _ := cmd.Flags().GetString("period")
		period, err := model.ParsePeriod(periodStr)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Store.LatestSnapshot(ctx, args[0], period)
		if err != nil {
			return eris.Wrap(err, "snapshot latest")
		}
		return printJSON(cmd.OutOrStdout(), snap)
	},
}

// -- snapshot list --

var snapshotListCmd = &cobra.Command{
	Use:   "list <company-id>",
	Short: "List a company's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		periodStr, _ := cmd.Flags().GetString("period")
		limit, _ := cmd.Flags().GetInt("limit")
		period, err := model.ParsePeriod(periodStr)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		width := env.Durations.Of(period)
		to := env.Durations.AlignStart(period, time.Now().UTC()).Add(width)
		from := to.Add(-time.Duration(limit) * width)
		snaps, err := env.Store.ListSnapshots(ctx, args[0], period, from, to)
		if err != nil {
			return eris.Wrap(err, "snapshot list")
		}
		if len(snaps) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No snapshots found.")
			return nil
		}
		formatSnapshotList(cmd.OutOrStdout(), snaps)
		return nil
	},
}

func formatSnapshotList(w io.Writer, snaps []model.CompanyAnalyticsSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIOD START\tIMPACT\tVELOCITY\tTREND\tNEWS\tPRICING\tFEATURES\tFUNDING\tFALLBACK")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%+.4f\t%d\t%d\t%d\t%d\t%t\n",
			s.PeriodStart.Format(time.DateOnly),
			s.ImpactScore, s.InnovationVelocity, s.TrendDelta,
			s.NewsTotal, s.PricingChanges, s.FeatureUpdates, s.FundingEvents,
			s.Fallback,
		)
	}
	tw.Flush()
}

func init() {
	snapshotComputeCmd.Flags().String("company", "", "company ID")
	snapshotComputeCmd.Flags().String("period", "daily", "period: daily, weekly or monthly")
	snapshotComputeCmd.Flags().String("start", "", startHelp)
	snapshotComputeCmd.Flags().Bool("align", false, "move --start back to the start of its window")
	_ = snapshotComputeCmd.MarkFlagRequired("company")

	snapshotLatestCmd.Flags().String("period", "daily", "period: daily, weekly or monthly")

	snapshotListCmd.Flags().String("period", "daily", "period: daily, weekly or monthly")
	snapshotListCmd.Flags().Int("limit", 30, "number of windows to cover")

	snapshotCmd.AddCommand(snapshotComputeCmd, snapshotLatestCmd, snapshotListCmd)
	rootCmd.AddCommand(snapshotCmd)
}
