package hivemq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// commandRunner runs a build tool inside dir.
type commandRunner interface {
	run(ctx context.Context, dir string, quiet bool, program string, args ...string) error
}

// execRunner runs commands on the host. Stderr always reaches the console;
// stdout only when not quiet.
type execRunner struct {
	stdout io.Writer
	stderr io.Writer
}

func newExecRunner() *execRunner {
	return &execRunner{stdout: os.Stdout, stderr: os.Stderr}
}

func (r *execRunner) run(ctx context.Context, dir string, quiet bool, program string, args ...string) error {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = io.MultiWriter(r.stderr, &stderr)
	if !quiet {
		cmd.Stdout = r.stdout
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &buildError{
			command:  strings.Join(append([]string{program}, args...), " "),
			exitCode: exitErr.ExitCode(),
			stderr:   strings.TrimSpace(stderr.String()),
		}
	}
	return fmt.Errorf("failed to run %s: %w", program, err)
}

type buildError struct {
	command  string
	exitCode int
	stderr   string
}

func (e *buildError) Error() string {
	msg := fmt.Sprintf("%q exited with code %d", e.command, e.exitCode)
	if e.stderr != "" {
		msg += ": " + e.stderr
	}
	return msg
}

func (e *buildError) Unwrap() error { return ErrBuildFailed }
