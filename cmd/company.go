package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-signals/internal/model"
)

var companyCmd = &cobra.Command{
	Use:   "company",
	Short: "Manage the companies the scheduler recomputes",
}

var companyAddCmd = &cobra.Command{
	Use:   "add <company-id>",
	Short: "Register or update a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		untracked, _ := cmd.Flags().GetBool("untracked")

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.UpsertCompany(ctx, model.Company{ID: args[0], Name: name, Tracked: !untracked}); err != nil {
			return eris.Wrap(err, "company add")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "company %s saved (tracked=%t)\n", args[0], !untracked)
		return nil
	},
}

var companyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		tracked, _ := cmd.Flags().GetBool("tracked")

		env, err := initEngine(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		companies, err := env.Store.ListCompanies(ctx, tracked)
		if err != nil {
			return eris.Wrap(err, "company list")
		}
		if len(companies) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No companies found.")
			return nil
		}
		formatCompanies(cmd.OutOrStdout(), companies)
		return nil
	},
}

func formatCompanies(w io.Writer, companies []model.Company) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTRACKED")
	for _, c := range companies {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", c.ID, c.Name, c.Tracked)
	}
	tw.Flush()
}

func init() {
	companyAddCmd.Flags().String("name", "", "display name")
	companyAddCmd.Flags().Bool("untracked", false, "exclude from scheduled recomputes")
	companyListCmd.Flags().Bool("tracked", false, "only tracked companies")

	companyCmd.AddCommand(companyAddCmd, companyListCmd)
	rootCmd.AddCommand(companyCmd)
}
