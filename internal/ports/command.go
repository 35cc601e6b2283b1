// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CommandResult represents the result of executing a shell command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// CommandCall records a command invocation.
type CommandCall struct {
	Command string
	Args    []string
}

// CommandRunner executes shell commands.
type CommandRunner interface {
	Run(ctx context.Context, command string, args ...string) (CommandResult, error)
}

// MockCommandRunner is a scriptable CommandRunner for tests.
// Results are registered per command+args; every invocation is recorded.
type MockCommandRunner struct {
	mu      sync.Mutex
	results map[string]CommandResult
	calls   []CommandCall
}

// NewMockCommandRunner creates an empty MockCommandRunner.
func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{
		results: make(map[string]CommandResult),
	}
}

// AddResult registers the result returned for the given command and args.
func (m *MockCommandRunner) AddResult(command string, args []string, result CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[callKey(command, args)] = result
}

// Run returns the registered result, or an error for unregistered commands.
func (m *MockCommandRunner) Run(_ context.Context, command string, args ...string) (CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, CommandCall{Command: command, Args: args})

	result, ok := m.results[callKey(command, args)]
	if !ok {
		return CommandResult{}, fmt.Errorf("no mock result registered for: %s %s", command, strings.Join(args, " "))
	}
	return result, nil
}

// Calls returns all recorded invocations in order.
func (m *MockCommandRunner) Calls() []CommandCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]CommandCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CalledWith reports whether the given command+args were invoked.
func (m *MockCommandRunner) CalledWith(command string, args ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := callKey(command, args)
	for _, c := range m.calls {
		if callKey(c.Command, c.Args) == want {
			return true
		}
	}
	return false
}

func callKey(command string, args []string) string {
	return command + "\x00" + strings.Join(args, "\x00")
}

// Ensure MockCommandRunner implements CommandRunner.
var _ CommandRunner = (*MockCommandRunner)(nil)
