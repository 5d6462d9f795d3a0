package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/pricing"
	"github.com/sells-group/market-signals/internal/resilience"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Feed pricing extractions and news into the store",
}

// -- ingest extraction --

var ingestExtractionCmd = &cobra.Command{
	Use:   "extraction",
	Short: "Ingest one pricing page extraction (JSON) and detect changes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		b, err := readInput(file)
		if err != nil {
			return err
		}
		var raw pricing.RawExtraction
		if err := json.Unmarshal(b, &raw); err != nil {
			return resilience.NewValidationError("extraction", eris.Wrap(err, "decode extraction"))
		}

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Ingest.IngestExtraction(ctx, &raw)
		if err != nil {
			return eris.Wrap(err, "ingest extraction")
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// -- ingest news --

var ingestNewsCmd = &cobra.Command{
	Use:   "news",
	Short: "Ingest enriched news records (JSON array)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		b, err := readInput(file)
		if err != nil {
			return err
		}
		var items []model.NewsItem
		if err := json.Unmarshal(b, &items); err != nil {
			return resilience.NewValidationError("news", eris.Wrap(err, "decode news"))
		}

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Ingest.IngestNews(ctx, items)
		if err != nil {
			return eris.Wrap(err, "ingest news")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d news records\n", n)
		return nil
	},
}

func init() {
	ingestExtractionCmd.Flags().String("file", "-", "path to the extraction JSON, - for stdin")
	ingestNewsCmd.Flags().String("file", "-", "path to the news JSON array, - for stdin")

	ingestCmd.AddCommand(ingestExtractionCmd, ingestNewsCmd)
	rootCmd.AddCommand(ingestCmd)
}
