// Package gitclient invokes the real git CLI as a subprocess for every
// version-control operation, per spec.md §1's explicit "version-control
// tool invoked as a subprocess" requirement. The command-execution and
// graceful-termination shape is grounded in cuemby-warren's
// pkg/health/exec.go (ExecChecker) and test/framework/process.go
// (SIGTERM-then-SIGKILL-after-grace-period).
package gitclient

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/relayforge/relay/internal/errs"
)

// Runner executes git subprocesses. A single Runner is shared by every
// Worktree Manager operation.
type Runner struct {
	// GracePeriod is how long runWithGrace waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
}

// NewRunner returns a Runner with the spec's 10s SIGTERM grace period.
func NewRunner() *Runner {
	return &Runner{GracePeriod: 10 * time.Second}
}

// Result captures one git invocation's outcome.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes `git <args...>` in dir, surfacing subprocess errors
// verbatim per spec.md §4.5.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := r.runWithGrace(ctx, cmd)

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		return result, errs.New(errs.WorktreeError,
			fmt.Sprintf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String())),
			false, err)
	}
	return result, nil
}

// runWithGrace starts cmd and, if ctx is cancelled before it exits, sends
// SIGTERM and escalates to SIGKILL after GracePeriod — the same sequence
// as cuemby-warren's test/framework/process.go Process.Stop.
func (r *Runner) runWithGrace(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err := <-done:
			return err
		case <-time.After(r.GracePeriod):
			_ = cmd.Process.Kill()
			<-done
			return ctx.Err()
		}
	}
}
