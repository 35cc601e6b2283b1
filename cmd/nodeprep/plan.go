package main

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what prepare would change",
	Long: `Plan checks every pipeline step read-only and prints the pending changes.

No host state is modified. The same information is available as
'prepare --dry-run', which additionally exercises the executor.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
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

	plan, err := preparer.Plan(cmd.Context())
	if err != nil {
		printError(err)
		return err
	}

	preparer.PrintPlan(plan)
	return nil
}
