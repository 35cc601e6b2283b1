// Package pipeline models the fixed sequence of provisioning steps that
// bring a host to a cluster-joinable state.
package pipeline

// Step is an idempotent unit of host provisioning.
// Each step can check its current state, describe the change it would make,
// apply it, and verify the resulting state.
type Step interface {
	// ID returns the unique identifier for this step.
	ID() StepID

	// DependsOn returns the IDs of steps that must run earlier in the
	// pipeline. The executor refuses a pipeline that violates this order.
	DependsOn() []StepID

	// Check determines the current status of this step.
	// Returns StatusSatisfied if no action is needed, StatusNeedsApply
	// if changes are required. Check must not mutate host state.
	Check(ctx RunContext) (StepStatus, error)

	// Plan returns the diff describing what changes this step will make.
	Plan(ctx RunContext) (Diff, error)

	// Apply executes the step's changes. Apply must be convergent:
	// running it again after success leaves the host unchanged.
	Apply(ctx RunContext) error

	// Verify re-checks the step's post-condition. It must pass immediately
	// after a successful Apply and must remain re-checkable in a later
	// process without Apply having run. A failed Verify aborts the run.
	Verify(ctx RunContext) error

	// Explain returns human-readable context for this step.
	Explain(ctx ExplainContext) Explanation
}
