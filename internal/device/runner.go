package device

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result is the captured outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs the device CLI. A non-zero exit is reported through
// Result.ExitCode; the error covers failures to run the command at all,
// including the context expiring.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (Result, error)
}

// ExecRunner runs a local binary.
type ExecRunner struct {
	// Binary is the executable name or path, "rmapi" when empty.
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	bin := r.Binary
	if bin == "" {
		bin = "rmapi"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
