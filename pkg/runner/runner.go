// Package runner wraps subprocess execution behind a narrow interface so
// the gateway client and health prober can be tested against canned output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

const maxCapturedOutputBytes = 64000

// Result captures one finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil && !r.TimedOut && r.ExitCode == 0
}

// Combined returns stdout with stderr appended, trimmed. Useful for CLIs
// that report status on either stream.
func (r Result) Combined() string {
	out := strings.TrimSpace(r.Stdout)
	errOut := strings.TrimSpace(r.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// CommandRunner runs one external command to completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// ExecRunner runs commands via os/exec with the caller's context governing
// the deadline.
type ExecRunner struct {
	// Dir, if set, is the working directory for every command.
	Dir string
}

func (e *ExecRunner) Run(ctx context.Context, name string, args ...string) Result {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   capOutput(stdout.String()),
		Stderr:   capOutput(stderr.String()),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.Err = ctx.Err()
		res.ExitCode = -1
		return res
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = err
		}
		return res
	}

	res.ExitCode = 0
	return res
}

func capOutput(s string) string {
	if len(s) > maxCapturedOutputBytes {
		return s[len(s)-maxCapturedOutputBytes:]
	}
	return s
}
