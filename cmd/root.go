// Package cmd defines the CLI commands for the rostercrawler executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/app"
	"github.com/JakeFAU/eld-roster-crawler/internal/config"
	"github.com/JakeFAU/eld-roster-crawler/internal/logging"
	"github.com/JakeFAU/eld-roster-crawler/internal/telemetry"
)

// offlineAnnotation marks commands that only touch the artifact store.
const offlineAnnotation = "offline"

const serviceName = "eld-roster-crawler"

var (
	cfgFile        string
	tracerProvider *sdktrace.TracerProvider
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject stores.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (*app.App, error) {
	return app.New(ctx, cfg, logger, opts...)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rostercrawler",
		Short: "Collects HeroELD driver rosters for every customer company.",
		Long: `rostercrawler logs into the HeroELD backend as the operator, lists the
customer companies, fetches each company's driver roster and writes the
normalized results (plus an active-drivers-only view) to the artifact store.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			tracerProvider, err = telemetry.InitTracerProvider(cmd.Context(), serviceName)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}

			var opts []app.Option
			if cmd.Annotations[offlineAnnotation] == "true" {
				opts = append(opts, app.Offline())
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if tracerProvider != nil {
				_ = tracerProvider.Shutdown(context.Background())
			}
			appInstance, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || appInstance == nil {
				return
			}
			if err := appInstance.Close(); err != nil {
				appInstance.Logger.Warn("close application services", zap.Error(err))
			}
			_ = appInstance.Logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml/json/toml); env vars use the ROSTER_ prefix")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newCompaniesCmd(),
		newAggregateCmd(),
		newFilterCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "rostercrawler: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory when present.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
