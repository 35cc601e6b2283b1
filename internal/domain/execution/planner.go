package execution

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
)

// Planner generates a Plan from an ordered step list.
// It checks each step's current status and records the changes needed.
type Planner struct{}

// NewPlanner creates a new Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan generates a Plan by checking each step's status in pipeline order.
// The step order is validated first: a step whose dependency appears later
// in the list (or not at all) is a pipeline construction fault, reported
// before any step is checked.
func (p *Planner) Plan(ctx context.Context, steps []pipeline.Step) (*Plan, error) {
	if err := ValidateOrder(steps); err != nil {
		return nil, err
	}

	plan := NewPlan()
	runCtx := pipeline.NewRunContext(ctx)

	for _, step := range steps {
		entry, err := p.planStep(step, runCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to plan step %q: %w", step.ID().String(), err)
		}
		plan.Add(entry)
	}

	return plan, nil
}

// planStep checks a single step and generates a PlanEntry.
func (p *Planner) planStep(step pipeline.Step, ctx pipeline.RunContext) (PlanEntry, error) {
	status, err := step.Check(ctx)
	if err != nil {
		return PlanEntry{}, fmt.Errorf("check failed: %w", err)
	}

	var diff pipeline.Diff

	if status == pipeline.StatusNeedsApply {
		diff, err = step.Plan(ctx)
		if err != nil {
			return PlanEntry{}, fmt.Errorf("plan failed: %w", err)
		}
	}

	return NewPlanEntry(step, status, diff), nil
}

// ValidateOrder ensures every step's dependencies appear earlier in the list.
// Later steps assume state established by earlier ones (the bridge sysctl
// keys only exist once br_netfilter is loaded), so a mis-ordered pipeline
// must be rejected rather than executed.
func ValidateOrder(steps []pipeline.Step) error {
	seen := make(map[string]bool, len(steps))

	for _, step := range steps {
		id := step.ID().String()
		if seen[id] {
			return pipeline.NewStepError(pipeline.ClassInternal,
				fmt.Sprintf("duplicate step %q in pipeline", id))
		}
		for _, dep := range step.DependsOn() {
			if !seen[dep.String()] {
				return pipeline.NewStepError(pipeline.ClassInternal,
					fmt.Sprintf("step %q requires %q to run earlier in the pipeline", id, dep.String()))
			}
		}
		seen[id] = true
	}

	return nil
}
