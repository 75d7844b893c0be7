package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
)

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "filter-inactive",
		Short:       "Writes the active-drivers view of the stored aggregate",
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			active, err := appInstance.Pipeline.FilterInactive(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.Logger.Info("inactive drivers filtered",
				zap.Int("companies", len(active)),
				zap.Int("with_drivers", roster.CountWithDrivers(active)),
				zap.String("key", appInstance.Config.Crawl.ActiveOutputKey),
			)
			return nil
		},
	}
}
