package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cmdworker/pkg/logger"
)

// ErrMissingExecutable is returned when a compiled command is empty or
// whitespace-only, leaving no program to run. Checked before any spawn.
var ErrMissingExecutable = errors.New("missing executable in the command line template")

// SpawnError reports a command that could not be started at all, for
// example a program missing from PATH or an unusable working directory.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to run command %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError reports a command that ran but exited unsuccessfully. Output
// carries the child's stderr followed by its stdout, untruncated; callers
// relay it as the failure diagnostic.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string { return e.Output }

// Launcher runs a compiled command line to completion.
type Launcher interface {
	// Launch executes command, optionally inside execDir, and returns the
	// child's stdout on success. Failures are reported as
	// ErrMissingExecutable, *SpawnError, or *ExitError.
	Launch(ctx context.Context, command string, execDir string) (string, error)
}

// ProcessLauncher executes commands as child OS processes.
type ProcessLauncher struct{}

func NewProcessLauncher() *ProcessLauncher {
	return &ProcessLauncher{}
}

// Launch tokenizes the command on single spaces: the first token is the
// program, the rest are arguments. Arguments containing spaces cannot be
// expressed; there are no quoting rules. execDir, when non-empty, becomes
// the child's working directory and is not validated up front, a bad
// directory surfaces as a spawn failure. The child runs to completion with
// no imposed timeout; cancelling ctx kills its process group.
func (l *ProcessLauncher) Launch(ctx context.Context, command string, execDir string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", ErrMissingExecutable
	}

	tokens := strings.Split(command, " ")
	program, args := tokens[0], tokens[1:]

	cmd := exec.CommandContext(ctx, program, args...)
	if execDir != "" {
		cmd.Dir = execDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The child runs in its own process group and cancellation kills the
	// whole group, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == syscall.ESRCH {
			return os.ErrProcessDone
		}
		return err
	}
	// Unblocks Wait when a descendant escapes the group and keeps the
	// output pipes open.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug("command exited unsuccessfully",
				zap.String("program", program),
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.Duration("duration", duration),
			)
			return "", &ExitError{
				Command:  command,
				ExitCode: exitErr.ExitCode(),
				Output:   decodeOutput(append(stderr.Bytes(), stdout.Bytes()...)),
			}
		}
		return "", &SpawnError{Command: command, Err: err}
	}

	logger.Debug("command completed",
		zap.String("program", program),
		zap.Duration("duration", duration),
		zap.Int("stdout_bytes", stdout.Len()),
	)
	return decodeOutput(stdout.Bytes()), nil
}

// decodeOutput converts raw child output to text, replacing invalid UTF-8
// sequences with U+FFFD instead of failing.
func decodeOutput(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}
