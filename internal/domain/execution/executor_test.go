package execution_test

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/nodeprep/internal/domain/execution"
	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStep is a scriptable step for executor and planner tests.
type fakeStep struct {
	id        pipeline.StepID
	deps      []pipeline.StepID
	status    pipeline.StepStatus
	checkErr  error
	applyErr  error
	verifyErr error

	checks   int
	applies  int
	verifies int
}

func newFakeStep(id string) *fakeStep {
	return &fakeStep{
		id:     pipeline.MustNewStepID(id),
		status: pipeline.StatusNeedsApply,
	}
}

func (s *fakeStep) ID() pipeline.StepID          { return s.id }
func (s *fakeStep) DependsOn() []pipeline.StepID { return s.deps }

func (s *fakeStep) Check(_ pipeline.RunContext) (pipeline.StepStatus, error) {
	s.checks++
	return s.status, s.checkErr
}

func (s *fakeStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "fake", s.id.String(), "", "done"), nil
}

func (s *fakeStep) Apply(_ pipeline.RunContext) error {
	s.applies++
	return s.applyErr
}

func (s *fakeStep) Verify(_ pipeline.RunContext) error {
	s.verifies++
	return s.verifyErr
}

func (s *fakeStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation("fake step", "", nil)
}

func plan(t *testing.T, steps ...pipeline.Step) *execution.Plan {
	t.Helper()
	p, err := execution.NewPlanner().Plan(context.Background(), steps)
	require.NoError(t, err)
	return p
}

func TestExecutor_RunsStepsInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	a := newFakeStep("system:modules")
	b := newFakeStep("system:sysctl")
	b.deps = []pipeline.StepID{a.id}

	// Wrap apply to record ordering.
	recorder := func(s *fakeStep) pipeline.Step {
		return &recordingStep{fakeStep: s, order: &order}
	}

	results, err := execution.NewExecutor().Execute(context.Background(),
		plan(t, recorder(a), recorder(b)))

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"system:modules", "system:sysctl"}, order)
	assert.True(t, results[0].Success())
	assert.True(t, results[1].Success())
}

type recordingStep struct {
	*fakeStep
	order *[]string
}

func (s *recordingStep) Apply(ctx pipeline.RunContext) error {
	*s.order = append(*s.order, s.id.String())
	return s.fakeStep.Apply(ctx)
}

func TestPlanner_RejectsMisorderedPipeline(t *testing.T) {
	t.Parallel()

	modules := newFakeStep("system:modules")
	sysctl := newFakeStep("system:sysctl")
	sysctl.deps = []pipeline.StepID{modules.id}

	// sysctl before modules must be refused before anything runs.
	_, err := execution.NewPlanner().Plan(context.Background(),
		[]pipeline.Step{sysctl, modules})

	require.Error(t, err)
	assert.Equal(t, pipeline.ClassInternal, pipeline.ClassOf(err))
	assert.Zero(t, sysctl.applies)
	assert.Zero(t, modules.applies)
}

func TestPlanner_RejectsDuplicateStep(t *testing.T) {
	t.Parallel()

	a := newFakeStep("system:swap")
	b := newFakeStep("system:swap")

	_, err := execution.NewPlanner().Plan(context.Background(), []pipeline.Step{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestExecutor_FailFastSkipsRemaining(t *testing.T) {
	t.Parallel()

	ok := newFakeStep("system:swap")
	failing := newFakeStep("system:modules")
	failing.verifyErr = pipeline.NewStepError(pipeline.ClassKernelModule, "br_netfilter not loaded")
	never := newFakeStep("system:sysctl")

	results, err := execution.NewExecutor().Execute(context.Background(),
		plan(t, ok, failing, never))

	require.Error(t, err)
	assert.Equal(t, pipeline.ClassKernelModule, pipeline.ClassOf(err))
	assert.Equal(t, 4, pipeline.ExitCodeFor(err))

	require.Len(t, results, 3)
	assert.Equal(t, pipeline.StatusSatisfied, results[0].Status())
	assert.Equal(t, pipeline.StatusFailed, results[1].Status())
	assert.Equal(t, pipeline.StatusSkipped, results[2].Status())
	assert.Zero(t, never.applies, "steps after a failure must not run")
}

func TestExecutor_ApplyErrorNamesStep(t *testing.T) {
	t.Parallel()

	failing := newFakeStep("runtime:install")
	failing.applyErr = errors.New("dnf install failed")

	_, err := execution.NewExecutor().Execute(context.Background(), plan(t, failing))

	require.Error(t, err)
	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "runtime:install", stepErr.StepID)
	assert.Equal(t, 1, pipeline.ExitCodeFor(err))
}

func TestExecutor_SatisfiedStepNotReapplied(t *testing.T) {
	t.Parallel()

	step := newFakeStep("system:swap")
	step.status = pipeline.StatusSatisfied

	results, err := execution.NewExecutor().Execute(context.Background(), plan(t, step))

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success())
	assert.Zero(t, step.applies, "satisfied step must not be re-applied")
	assert.Zero(t, step.verifies)
}

func TestExecutor_DryRunAppliesNothing(t *testing.T) {
	t.Parallel()

	step := newFakeStep("cni:binaries")

	results, err := execution.NewExecutor().WithDryRun(true).
		Execute(context.Background(), plan(t, step))

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pipeline.StatusNeedsApply, results[0].Status())
	assert.Zero(t, step.applies)
	assert.False(t, results[0].Diff().IsEmpty())
}

func TestExecutor_VerifyRunsAfterApply(t *testing.T) {
	t.Parallel()

	step := newFakeStep("system:sysctl")

	_, err := execution.NewExecutor().Execute(context.Background(), plan(t, step))

	require.NoError(t, err)
	assert.Equal(t, 1, step.applies)
	assert.Equal(t, 1, step.verifies)
}

func TestExecutor_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := plan(t, newFakeStep("system:swap"))
	cancel()

	_, err := execution.NewExecutor().Execute(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlan_Summary(t *testing.T) {
	t.Parallel()

	satisfied := newFakeStep("system:swap")
	satisfied.status = pipeline.StatusSatisfied
	pending := newFakeStep("system:modules")

	p := plan(t, satisfied, pending)

	summary := p.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Satisfied)
	assert.Equal(t, 1, summary.NeedsApply)
	assert.True(t, p.HasChanges())
	assert.Len(t, p.NeedsApply(), 1)
}
