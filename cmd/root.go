// Package cmd defines and implements the CLI commands for the leadfinder
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadfinder/internal/app"
	"github.com/JakeFAU/leadfinder/internal/config"
	"github.com/JakeFAU/leadfinder/internal/enrich"
	"github.com/JakeFAU/leadfinder/internal/funding"
	"github.com/JakeFAU/leadfinder/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipAppAnnotation marks commands that run without building the App.
const skipAppAnnotation = "leadfinder/skip-app"

// App is the slice of the application the commands drive. Tests inject fakes.
type App interface {
	Run(ctx context.Context) error
	Close() error
	Search(ctx context.Context, req enrich.Request) (enrich.Response, error)
	Fund(ctx context.Context, ev funding.Event) (funding.Result, error)
}

// appFactory builds the App from loaded configuration.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

type builtApp struct {
	*app.App
}

func (b builtApp) Search(ctx context.Context, req enrich.Request) (enrich.Response, error) {
	resp, err := b.Orchestrator().Run(ctx, req)
	if err != nil {
		return enrich.Response{}, fmt.Errorf("search: %w", err)
	}
	return resp, nil
}

func (b builtApp) Fund(ctx context.Context, ev funding.Event) (funding.Result, error) {
	res, err := b.Funding().Apply(ctx, ev)
	if err != nil {
		return funding.Result{}, fmt.Errorf("fund: %w", err)
	}
	return res, nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return builtApp{App: a}, nil
}

// newRootCmd creates the root command with its subcommands.
func newRootCmd(factory appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "leadfinder",
		Short: "Credit-metered place search with contact enrichment.",
		Long: `leadfinder searches the Places API for a keyword and location, visits
each result's homepage for an email address and social profile, and meters
usage against a per-key credit ledger.`,
		SilenceUsage: true,

		// Builds the App and stores it in the context for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipAppAnnotation] == "true" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					zap.L().Warn("close app", zap.Error(err))
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); LEADFINDER_* environment variables override it")

	cmd.AddCommand(
		newServeCmd(),
		newSearchCmd(),
		newFundCmd(),
		newKeyIDCmd(),
	)
	return cmd
}

// resolveApp fetches the App stored by PersistentPreRunE.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(buildApp).ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
