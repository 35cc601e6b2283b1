package execution

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
)

// Executor runs steps from a Plan, strictly in order.
//
// Execution is fail-fast: the first step whose apply or verify fails stops
// the run, and remaining steps are reported as skipped. There is no retry
// and no rollback; re-running the whole pipeline after remediation is the
// supported recovery path, which the steps' idempotence makes safe.
type Executor struct {
	dryRun bool
}

// NewExecutor creates a new Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// WithDryRun returns an Executor that simulates execution without applying.
func (e *Executor) WithDryRun(dryRun bool) *Executor {
	return &Executor{dryRun: dryRun}
}

// Execute runs all steps in the plan in order. It returns a result per plan
// entry and the first failure (nil when every step succeeded). The returned
// error carries the failing step's failure class for exit-code mapping.
func (e *Executor) Execute(ctx context.Context, plan *Plan) ([]StepResult, error) {
	results := make([]StepResult, 0, plan.Len())
	runCtx := pipeline.NewRunContext(ctx).WithDryRun(e.dryRun)

	var firstErr error

	for i, entry := range plan.Entries() {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := e.executeEntry(entry, runCtx)
		results = append(results, result)

		if result.Status() == pipeline.StatusFailed {
			firstErr = result.Error()
			// Remaining steps assume this one's state; report them skipped.
			for _, rest := range plan.Entries()[i+1:] {
				results = append(results, NewStepResult(rest.Step().ID(), pipeline.StatusSkipped, nil))
			}
			break
		}
	}

	return results, firstErr
}

// executeEntry executes a single plan entry: apply if needed, then verify.
func (e *Executor) executeEntry(entry PlanEntry, ctx pipeline.RunContext) StepResult {
	step := entry.Step()
	stepID := step.ID()

	// Already satisfied at plan time; nothing to apply.
	if entry.Status() == pipeline.StatusSatisfied {
		return NewStepResult(stepID, pipeline.StatusSatisfied, nil)
	}

	if ctx.DryRun() {
		return NewStepResult(stepID, entry.Status(), nil).WithDiff(entry.Diff())
	}

	start := time.Now()
	if err := step.Apply(ctx); err != nil {
		return NewStepResult(stepID, pipeline.StatusFailed, classify(err, stepID)).
			WithDuration(time.Since(start))
	}

	if err := step.Verify(ctx); err != nil {
		return NewStepResult(stepID, pipeline.StatusFailed, classify(err, stepID)).
			WithDuration(time.Since(start))
	}

	return NewStepResult(stepID, pipeline.StatusSatisfied, nil).
		WithDuration(time.Since(start)).
		WithDiff(entry.Diff())
}

// classify ensures every failure surfaces as a StepError naming its step.
func classify(err error, stepID pipeline.StepID) error {
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		if stepErr.StepID == "" {
			return stepErr.WithStepID(stepID.String())
		}
		return err
	}
	return pipeline.NewStepError(pipeline.ClassGeneric, err.Error()).
		WithStepID(stepID.String()).
		WithUnderlying(err)
}
