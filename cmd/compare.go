package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-signals/internal/comparison"
	"github.com/sells-group/market-signals/internal/model"
)

var compareCmd = &cobra.Command{
	Use:   "compare <company-id>...",
	Short: "Build a side-by-side comparison of companies and export it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		periodStr, _ := cmd.Flags().GetString("period")
		lookback, _ := cmd.Flags().GetInt("lookback")
		asOfStr, _ := cmd.Flags().GetString("as-of")
		formatStr, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		changeLimit, _ := cmd.Flags().GetInt("changes")
		withGraph, _ := cmd.Flags().GetBool("graph")

		period, err := model.ParsePeriod(periodStr)
		if err != nil {
			return err
		}
		format, err := comparison.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		asOf, err := parseTimeFlag("as-of", asOfStr)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Compare.Build(ctx, comparison.Request{
			Subjects:       args,
			Period:         period,
			Lookback:       lookback,
			AsOf:           asOf,
			IncludeSeries:  true,
			IncludeChanges: changeLimit > 0,
			IncludeGraph:   withGraph,
			ChangeLimit:    changeLimit,
		})
		if err != nil {
			return eris.Wrap(err, "compare")
		}

		var w io.Writer = cmd.OutOrStdout()
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrapf(err, "create %s", out)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		return comparison.Write(w, format, p)
	},
}

func init() {
	compareCmd.Flags().String("period", "weekly", "period: daily, weekly or monthly")
	compareCmd.Flags().Int("lookback", 8, "number of windows in the series")
	compareCmd.Flags().String("as-of", "", "reference time (default: now)")
	compareCmd.Flags().String("format", "json", "output format: json, csv or xlsx")
	compareCmd.Flags().String("out", "-", "output file, - for stdout")
	compareCmd.Flags().Int("changes", 20, "change events per company, 0 to omit")
	compareCmd.Flags().Bool("graph", false, "include knowledge graph edges")
	rootCmd.AddCommand(compareCmd)
}
