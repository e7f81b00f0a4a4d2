package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/org-contact-crawler/internal/discovery"
)

// newDiscoverCmd creates the 'discover' subcommand, which runs the configured
// place text search and writes the seeds as CSV for a later 'run --seeds'.
func newDiscoverCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Finds organizations with place text search and writes a seed CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			source, err := appInstance.PlacesSource()
			if err != nil {
				return err
			}
			seeds, err := source.Seeds(cmd.Context())
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				out = f
			}
			if err := discovery.WriteCSV(out, seeds); err != nil {
				return err
			}
			appInstance.Logger().Sugar().Infof("discovered %d sites", len(seeds))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output CSV path (default: stdout)")
	return cmd
}
