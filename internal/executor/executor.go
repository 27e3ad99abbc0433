// Package executor abstracts running external binaries so the webserver and
// ACME wrappers can be exercised without touching real processes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ErrTimeout is returned when a command outlives its context deadline.
var ErrTimeout = errors.New("command timed out")

// Runner executes a command and returns its combined stdout/stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// SystemRunner implements Runner using os/exec.
type SystemRunner struct{}

// NewSystemRunner creates a new SystemRunner.
func NewSystemRunner() *SystemRunner {
	return &SystemRunner{}
}

// Run executes name with args, killing the process when ctx is done.
func (r *SystemRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		return out, fmt.Errorf("%s: %w", name, ErrTimeout)
	}
	return out, err
}

// CommandLine renders a command for logs and error messages.
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Call records a command execution for verification.
type Call struct {
	Name string
	Args []string
}

// String returns the call as a command line.
func (c Call) String() string {
	return CommandLine(c.Name, c.Args...)
}

// MockRunner is a scriptable Runner for tests. It is safe for concurrent use.
type MockRunner struct {
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	mu    sync.Mutex
	calls []Call
}

// Run records the call and delegates to RunFunc when set.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Name: name, Args: append([]string(nil), args...)})
	fn := m.RunFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, name, args...)
	}
	return []byte(""), nil
}

// Calls returns a snapshot of recorded calls in order.
func (m *MockRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}
