package main

import (
	"github.com/spf13/cobra"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Run the preparation pipeline on this host",
	Long: `Prepare executes every pipeline step in order and verifies each result.

Steps already in their target state are skipped; the first failing step
aborts the run. Progress is written to the terminal and appended to the
persistent run log. Requires root unless --dry-run is given.`,
	RunE: runPrepare,
}

var prepareDryRun bool

func init() {
	prepareCmd.Flags().BoolVar(&prepareDryRun, "dry-run", false, "show what would be done without changing the host")
	rootCmd.AddCommand(prepareCmd)
}

func runPrepare(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		return err
	}

	preparer, err := newPreparer(cfg, cmd.OutOrStdout())
	if err != nil {
		printError(err)
		return err
	}

	results, err := preparer.Prepare(cmd.Context(), prepareDryRun)
	preparer.PrintResults(results)
	if err != nil {
		printError(err)
		return err
	}
	return nil
}
