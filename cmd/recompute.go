package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/recompute"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute snapshots in bulk",
}

// -- recompute batch --

var recomputeBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Compute one window for many companies through the worker pool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		periodStr, _ := cmd.Flags().GetString("period")
		start, _ := cmd.Flags().GetString("start")
		align, _ := cmd.Flags().GetBool("align")
		companiesFlag, _ := cmd.Flags().GetString("companies")
		windows, _ := cmd.Flags().GetInt("windows")

		period, err := model.ParsePeriod(periodStr)
		if err != nil {
			return err
		}
		if windows < 1 {
			windows = 1
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

		companies := splitList(companiesFlag)
		if len(companies) == 0 {
			tracked, err := env.Store.ListCompanies(ctx, true)
			if err != nil {
				return eris.Wrap(err, "recompute batch: list companies")
			}
			for _, c := range tracked {
				companies = append(companies, c.ID)
			}
		}
		if len(companies) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No companies to recompute.")
			return nil
		}

		keys := batchKeys(env.Durations, companies, period, from, windows)
		res := env.Recompute.RunBatch(ctx, keys, recompute.TriggerBatch)
		formatBatchResult(cmd.OutOrStdout(), res)
		if res.Failed > 0 {
			return eris.Errorf("recompute batch: %d of %d items failed", res.Failed, res.Total)
		}
		return nil
	},
}

// batchKeys expands companies over windows consecutive windows ending with
// the one starting at last.
func batchKeys(d model.PeriodDurations, companies []string, period model.Period, last time.Time, windows int) []model.SnapshotKey {
	width := d.Of(period)
	keys := make([]model.SnapshotKey, 0, len(companies)*windows)
	for _, c := range companies {
		for i := windows - 1; i >= 0; i-- {
			keys = append(keys, model.NewSnapshotKey(c, period, last.Add(-time.Duration(i)*width)))
		}
	}
	return keys
}

// -- recompute scheduled --

var recomputeScheduledCmd = &cobra.Command{
	Use:   "scheduled",
	Short: "Run the periodic trigger once: latest closed window for tracked companies, then graph sync",
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		res, err := env.Recompute.RunScheduled(ctx, period, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "recompute scheduled")
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func formatBatchResult(w io.Writer, res *recompute.BatchResult) {
	fmt.Fprintf(w, "total=%d succeeded=%d fallback=%d failed=%d duration=%s\n",
		res.Total, res.Succeeded, res.Fallback, res.Failed, res.Duration.Round(time.Millisecond))
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.Key.String(), e.Error)
	}
}

func init() {
	recomputeBatchCmd.Flags().String("period", "daily", "period: daily, weekly or monthly")
	recomputeBatchCmd.Flags().String("start", "", "last "+startHelp)
	recomputeBatchCmd.Flags().Bool("align", false, "move --start back to the start of its window")
	recomputeBatchCmd.Flags().String("companies", "", "comma separated company IDs (default: tracked companies)")
	recomputeBatchCmd.Flags().Int("windows", 1, "number of consecutive windows per company")

	recomputeScheduledCmd.Flags().String("period", "daily", "period: daily, weekly or monthly")

	recomputeCmd.AddCommand(recomputeBatchCmd, recomputeScheduledCmd)
	rootCmd.AddCommand(recomputeCmd)
}
