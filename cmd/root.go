package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/api"
	"github.com/JakeFAU/org-contact-crawler/internal/app"
	"github.com/JakeFAU/org-contact-crawler/internal/config"
	"github.com/JakeFAU/org-contact-crawler/internal/coordinator"
	"github.com/JakeFAU/org-contact-crawler/internal/discovery"
	"github.com/JakeFAU/org-contact-crawler/internal/logging"
	"github.com/JakeFAU/org-contact-crawler/internal/pipeline"
	"github.com/JakeFAU/org-contact-crawler/internal/progress"
	"github.com/JakeFAU/org-contact-crawler/internal/progress/sinks"
	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
	sqlitestore "github.com/JakeFAU/org-contact-crawler/internal/storage/sqlite"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const shutdownTimeout = 30 * time.Second

// App defines the services commands use. *app.App implements it; tests
// inject their own.
type App interface {
	Close(ctx context.Context) error
	Config() config.Config
	Logger() *zap.Logger
	Scorer() *scorer.Scorer
	Progress() (*progress.Hub, *sinks.StatusSink, error)
	Coordinator(emitter progress.Emitter) (*coordinator.Coordinator, error)
	SeedSource(csvPath string) (discovery.Source, error)
	PlacesSource() (*discovery.PlacesSource, error)
	Pipeline(ctx context.Context, source discovery.Source) (*pipeline.Pipeline, error)
	SQLite(ctx context.Context) (*sqlitestore.ResultStore, error)
	OpsServer(status api.RunStatusProvider, checks map[string]api.ReadinessCheck) *api.Server
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(_ context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(cfg, logger), nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "orgcrawler",
		Short: "Finds the staff and contact pages of organization websites.",
		Long: `orgcrawler discovers candidate pages on each organization's website,
scores them against a keyword rubric, fetches the best few (rendering them in
headless Chrome when the static HTML is thin) and hands them to a contact
extraction service. Results land in a JSON run report and, optionally, a
database and a Pub/Sub topic.`,
		SilenceUsage: true,

		// Build the services once, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			return appInstance.Close(ctx)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the ORGCRAWLER_ prefix")

	cmd.AddCommand(
		newRunCmd(),
		newCrawlSiteCmd(),
		newScoreCmd(),
		newServeCmd(),
		newDiscoverCmd(),
		newResultsCmd(),
	)
	return cmd
}

// resolveApp returns the App stored by the root command.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services are not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
