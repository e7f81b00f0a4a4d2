package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/id/uuid"
)

type resultsOutput struct {
	RunID string `json:"runId"`
	// StartedAt comes from the run id and is omitted for ids that are not UUIDv7.
	StartedAt *time.Time                `json:"startedAt,omitempty"`
	Sites     []crawler.SiteCrawlResult `json:"sites"`
}

// newResultsCmd creates the 'results' subcommand. It reads a run back from the
// SQLite result store.
func newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <run-id>",
		Short: "Prints the stored sites of a run from the SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, err := appInstance.SQLite(cmd.Context())
			if err != nil {
				return err
			}
			sites, err := store.Sites(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := resultsOutput{RunID: args[0], Sites: sites}
			if started, err := uuid.StartedAt(args[0]); err == nil {
				out.StartedAt = &started
			}
			return writeJSON(cmd, out)
		},
	}
}
