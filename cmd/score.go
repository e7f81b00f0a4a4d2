package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/scorer"
)

type scoreOutput struct {
	URL          string            `json:"url"`
	Score        int               `json:"score"`
	PathScore    int               `json:"pathScore"`
	ContentScore int               `json:"contentScore"`
	Excluded     bool              `json:"excluded"`
	Breakdown    []crawler.RuleHit `json:"breakdown"`
}

// newScoreCmd creates the 'score' subcommand for tuning the rubric offline.
func newScoreCmd() *cobra.Command {
	var htmlPath string
	cmd := &cobra.Command{
		Use:   "score <url>...",
		Short: "Scores URLs against the configured rubric",
		Long: `Prints the rubric score and rule breakdown for each URL. With --html the
file's email, name and heading signals are added to every URL's score, the
same way a fetched page is re-scored during a crawl.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var signals *scorer.Signals
			if htmlPath != "" {
				body, err := os.ReadFile(htmlPath)
				if err != nil {
					return fmt.Errorf("read html: %w", err)
				}
				extracted := scorer.ExtractSignals(body)
				signals = &extracted
			}
			s := appInstance.Scorer()
			out := make([]scoreOutput, 0, len(args))
			for _, u := range args {
				r := s.Score(u, signals)
				out = append(out, scoreOutput{
					URL:          u,
					Score:        r.Score,
					PathScore:    r.PathScore,
					ContentScore: r.ContentScore,
					Excluded:     r.Excluded,
					Breakdown:    r.Breakdown,
				})
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&htmlPath, "html", "", "HTML file whose content signals are applied to every URL")
	return cmd
}
