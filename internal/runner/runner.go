// Package runner invokes the external conversion tools.
package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, logger *slog.Logger, args ...string) (stdout, stderr []byte, err error)
}

// Exec runs commands with os/exec.
type Exec struct{}

// New returns the os/exec backed Runner.
func New() Runner { return Exec{} }

func (Exec) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	cmdLine := strings.Join(append([]string{name}, args...), " ")
	logger.Debug("running command", "cmd_line", cmdLine)

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		logger.Error("exec failed",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"exit_code", ExitCode(err),
			"error", err,
			"stderr", Truncate(errb.String(), 8<<10), // cap at 8KB
		)
	} else {
		logger.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
			"stderr_bytes", errb.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

// ExitCode returns the process exit status carried by err, 0 for nil and
// -1 when the process never ran or was killed by a signal.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// Diagnostic picks the most useful text to report for a failed invocation.
func Diagnostic(stderr []byte, err error) string {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return Truncate(msg, 2<<10)
}

// Truncate caps s at max bytes, marking the cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// Func adapts a plain function to Runner.
type Func func(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error)

func (f Func) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	return f(ctx, name, logger, args...)
}

// StatusError is a non-exec error carrying an exit status, used by Func
// runners that emulate a tool.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return "exit status " + strconv.Itoa(e.Code) }

func (e *StatusError) ExitCode() int { return e.Code }
