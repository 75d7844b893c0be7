package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
)

func newAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregates drivers for the stored company list",
		Long: `Reads the previously saved company list and fetches each company's roster,
snapshotting the aggregate after every company. Does not refresh the list.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			results, err := appInstance.Aggregator.RunFromStore(cmd.Context())
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Failed() {
					failed++
				}
			}
			appInstance.Logger.Info("aggregate command finished",
				zap.Int("companies", len(results)),
				zap.Int("failed", failed),
				zap.Int("with_drivers", roster.CountWithDrivers(results)),
				zap.String("key", appInstance.Aggregator.OutputKey()),
			)
			return nil
		},
	}
}
