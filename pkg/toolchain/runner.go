// Package toolchain invokes the external witness generator, prover and
// verification client that turn a measurement into an attested proof.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command is one fully expanded process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExitError reports a process that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, e.Stderr)
}

// StderrTailBytes bounds how much stderr an ExitError carries.
const StderrTailBytes = 4096

// ExecRunner runs commands as child processes. The process is killed when
// ctx ends.
type ExecRunner struct {
	// WaitDelay bounds how long to wait for I/O after the process is
	// killed. Zero means 5s.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, c Command) error {
	//nolint:gosec // G204: command comes from the operator's toolchain profile
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", c, ctxErr)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Command: c.String(), Code: ee.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
	}
	return fmt.Errorf("spawn %s: %w", c, err)
}

// tailBuffer keeps only the last StderrTailBytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > StderrTailBytes {
		p = p[len(p)-StderrTailBytes:]
	}
	t.buf.Write(p)
	if over := t.buf.Len() - StderrTailBytes; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
