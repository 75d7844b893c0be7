package cmd

import (
	"github.com/spf13/cobra"
)

func newCompaniesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-companies",
		Short: "Refreshes the filtered company list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Pipeline.FetchCompaniesSummary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}
