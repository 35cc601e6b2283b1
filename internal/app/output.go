package app

import (
	"fmt"

	"github.com/felixgeelhaar/nodeprep/internal/domain/execution"
	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
)

// PrintPlan outputs a human-readable plan summary.
func (p *Preparer) PrintPlan(plan *execution.Plan) {
	summary := plan.Summary()

	p.printf("\nNode Preparation Plan\n")
	p.printf("=====================\n\n")

	if !plan.HasChanges() {
		p.printf("No changes needed. This host is ready for cluster join.\n")
		return
	}

	p.printf("Steps: %d total, %d to apply, %d satisfied\n\n",
		summary.Total, summary.NeedsApply, summary.Satisfied)

	for _, entry := range plan.Entries() {
		status := "✓"
		if entry.Status() == pipeline.StatusNeedsApply {
			status = "+"
		}

		p.printf("  %s %s\n", status, entry.Step().ID().String())

		diff := entry.Diff()
		if !diff.IsEmpty() {
			p.printf("      %s\n", diff.Summary())
		}
	}

	p.printf("\nRun 'nodeprep prepare' to execute this plan.\n")
}

// PrintResults outputs execution results.
func (p *Preparer) PrintResults(results []execution.StepResult) {
	p.printf("\nExecution Results\n")
	p.printf("=================\n\n")

	var succeeded, failed, skipped int
	for i := range results {
		switch results[i].Status() {
		case pipeline.StatusSatisfied:
			succeeded++
			p.printf("  ✓ %s\n", results[i].StepID().String())
		case pipeline.StatusFailed:
			failed++
			p.printf("  ✗ %s: %v\n", results[i].StepID().String(), results[i].Error())
		case pipeline.StatusSkipped:
			skipped++
			p.printf("  - %s (skipped)\n", results[i].StepID().String())
		case pipeline.StatusNeedsApply:
			p.printf("  + %s (would apply)\n", results[i].StepID().String())
		case pipeline.StatusUnknown:
			p.printf("  ? %s (unknown)\n", results[i].StepID().String())
		}
	}

	p.printf("\nSummary: %d succeeded, %d failed, %d skipped\n",
		succeeded, failed, skipped)
}

// printf is a helper that writes to the output writer, ignoring errors.
func (p *Preparer) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}
