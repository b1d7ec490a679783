package exec

import (
	"context"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for I/O after the context is done.
// npm leaves grandchildren holding the output pipes open.
const waitDelay = 5 * time.Second

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	// Env is appended to the parent environment when non-empty.
	Env []string
}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, err
}

// LookPath reports where an executable lives on PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
