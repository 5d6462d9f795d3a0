package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-signals/internal/graph"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/store"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Maintain and inspect the knowledge graph",
}

// -- graph sync --

var graphSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Derive edges from a source window, upsert them and prune stale ones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		company, _ := cmd.Flags().GetString("company")
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")

		from, err := parseTimeFlag("from", fromStr)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("to", toStr)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		w := graph.Window{From: from, To: to}
		if w.From.IsZero() != w.To.IsZero() {
			def := env.Graph.DefaultWindow()
			if w.From.IsZero() {
				w.From = w.To.Add(-def.To.Sub(def.From))
			} else {
				w.To = def.To
			}
		}
		res, err := env.Graph.Sync(ctx, company, w)
		if err != nil {
			return eris.Wrap(err, "graph sync")
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// -- graph edges --

var graphEdgesCmd = &cobra.Command{
	Use:   "edges",
	Short: "List graph edges",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		company, _ := cmd.Flags().GetString("company")
		rel, _ := cmd.Flags().GetString("relationship")
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		edges, err := env.Store.ListEdges(ctx, store.EdgeFilter{CompanyID: company, Relationship: rel, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "graph edges")
		}
		if len(edges) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No edges found.")
			return nil
		}
		formatEdges(cmd.OutOrStdout(), edges)
		return nil
	},
}

func formatEdges(w io.Writer, edges []model.KnowledgeGraphEdge) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tRELATIONSHIP\tOBJECT\tWEIGHT\tOBSERVED")
	for _, e := range edges {
		fmt.Fprintf(tw, "%s:%s\t%s\t%s:%s\t%.4f\t%s\n",
			e.SubjectType, e.SubjectID, e.Relationship, e.ObjectType, e.ObjectID,
			e.Weight, e.ObservedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func init() {
	graphSyncCmd.Flags().String("company", "", "limit the pass to one company (default: all)")
	graphSyncCmd.Flags().String("from", "", "window start (default: configured window ending now)")
	graphSyncCmd.Flags().String("to", "", "window end (default: now)")

	graphEdgesCmd.Flags().String("company", "", "subject company ID")
	graphEdgesCmd.Flags().String("relationship", "", "relationship name, e.g. COMPETES_WITH")
	graphEdgesCmd.Flags().Int("limit", 100, "maximum number of edges")

	graphCmd.AddCommand(graphSyncCmd, graphEdgesCmd)
	rootCmd.AddCommand(graphCmd)
}
