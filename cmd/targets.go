package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// newTargetsCmd creates the 'targets' subcommand, which validates the target
// list without crawling anything.
func newTargetsCmd() *cobra.Command {
	var targetsFile string
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Print the parsed target list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			path := e.cfg.Harvest.TargetsFile
			if targetsFile != "" {
				path = targetsFile
			}
			targets, err := crawler.LoadTargetsFile(path, e.logger)
			if err != nil {
				return fmt.Errorf("load targets: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, t := range targets {
				fmt.Fprintf(out, "%s\tmake=%s\tmodel=%s\n", t.Slug(), t.Make, t.Model)
			}
			fmt.Fprintf(out, "%d targets\n", len(targets))
			return nil
		},
	}
	cmd.Flags().StringVar(&targetsFile, "targets", "", "target list JSON file (overrides harvest.targets_file)")
	return cmd
}
