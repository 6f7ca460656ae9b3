package agentexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command describes one external process run.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
}

// Result is the captured outcome of a process that ran to completion.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Executor runs commands. A non-zero exit is reported through
// Result.ExitCode, not as an error; errors mean the process could not run.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ProcessExecutor runs commands as real subprocesses.
type ProcessExecutor struct{}

func (ProcessExecutor) Run(ctx context.Context, c Command) (Result, error) {
	if strings.TrimSpace(c.Program) == "" {
		return Result{}, errors.New("missing command")
	}
	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr) && exitErr.Exited():
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, fmt.Errorf("failed to run %s: %w", c.Program, err)
	}
}
