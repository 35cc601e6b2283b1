package execution

import (
	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
)

// PlanEntry records what one preparation step would do to this host.
type PlanEntry struct {
	step   pipeline.Step
	status pipeline.StepStatus
	diff   pipeline.Diff
}

// NewPlanEntry creates a new PlanEntry.
func NewPlanEntry(step pipeline.Step, status pipeline.StepStatus, diff pipeline.Diff) PlanEntry {
	return PlanEntry{
		step:   step,
		status: status,
		diff:   diff,
	}
}

// Step returns the step to be executed.
func (e PlanEntry) Step() pipeline.Step {
	return e.step
}

// Status reports whether the host already satisfies this step.
func (e PlanEntry) Status() pipeline.StepStatus {
	return e.status
}

// Diff returns the host changes the step would make.
func (e PlanEntry) Diff() pipeline.Diff {
	return e.diff
}

// PlanSummary counts plan entries by status.
type PlanSummary struct {
	Total      int
	NeedsApply int
	Satisfied  int
	Unknown    int
	Failed     int
	Skipped    int
}

// Plan is the read-only preview of a preparation run: every step in
// pipeline order, paired with whether the host already satisfies it.
type Plan struct {
	entries []PlanEntry
}

// NewPlan creates an empty Plan.
func NewPlan() *Plan {
	return &Plan{
		entries: make([]PlanEntry, 0),
	}
}

// Add appends a plan entry.
func (p *Plan) Add(entry PlanEntry) {
	p.entries = append(p.entries, entry)
}

// Len returns the number of entries.
func (p *Plan) Len() int {
	return len(p.entries)
}

// IsEmpty returns true if there are no entries.
func (p *Plan) IsEmpty() bool {
	return len(p.entries) == 0
}

// Entries returns all plan entries.
func (p *Plan) Entries() []PlanEntry {
	return p.entries
}

// NeedsApply returns the entries whose host state still has to change.
func (p *Plan) NeedsApply() []PlanEntry {
	result := make([]PlanEntry, 0)
	for _, e := range p.entries {
		if e.status == pipeline.StatusNeedsApply {
			result = append(result, e)
		}
	}
	return result
}

// HasChanges reports whether any step would mutate the host.
func (p *Plan) HasChanges() bool {
	for _, e := range p.entries {
		if e.status == pipeline.StatusNeedsApply {
			return true
		}
	}
	return false
}

// Summary returns aggregate statistics.
func (p *Plan) Summary() PlanSummary {
	summary := PlanSummary{Total: len(p.entries)}
	for _, e := range p.entries {
		switch e.status {
		case pipeline.StatusNeedsApply:
			summary.NeedsApply++
		case pipeline.StatusSatisfied:
			summary.Satisfied++
		case pipeline.StatusUnknown:
			summary.Unknown++
		case pipeline.StatusFailed:
			summary.Failed++
		case pipeline.StatusSkipped:
			summary.Skipped++
		}
	}
	return summary
}
