package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/org-contact-crawler/internal/pipeline"
)

type runOptions struct {
	seeds string
	serve bool
}

// newRunCmd creates the 'run' subcommand, the full harvest.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawls every seed site and writes a run report",
		Long: `Loads seeds from the configured discovery source (a CSV file or place
text search), crawls each site through the worker pool and writes the run
report to the blob store. SIGINT or SIGTERM stops the run; sites that did not
finish are recorded as canceled and the partial report is still written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.seeds, "seeds", "", "CSV seed file; overrides discovery.source")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "serve health, metrics and run status while crawling")
	return cmd
}

func runHarvest(cmd *cobra.Command, opts *runOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := appInstance.SeedSource(opts.seeds)
	if err != nil {
		return err
	}
	p, err := appInstance.Pipeline(ctx, source)
	if err != nil {
		return err
	}

	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if opts.serve || cfg.Server.Enabled {
		_, status, err := appInstance.Progress()
		if err != nil {
			return err
		}
		srv := appInstance.OpsServer(status, nil)
		go func() {
			serverDone <- srv.ListenAndServe(serverCtx, fmt.Sprintf(":%d", cfg.Server.Port))
		}()
	} else {
		serverDone <- nil
	}

	report, runErr := p.Run(ctx)
	stopServer()
	if err := <-serverDone; err != nil {
		logger.Warn("ops server stopped with error", zap.Error(err))
	}

	if report.RunID != "" {
		if err := writeJSON(cmd, runSummary(report)); err != nil {
			return err
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("run interrupted; partial report written", zap.String("report", report.URI))
			return nil
		}
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

type summaryOutput struct {
	RunID   string           `json:"runId"`
	Report  string           `json:"report,omitempty"`
	Summary pipeline.Summary `json:"summary"`
}

func runSummary(r pipeline.Report) summaryOutput {
	return summaryOutput{RunID: r.RunID, Report: r.URI, Summary: r.Summary}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
