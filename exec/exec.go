// Package exec provides shell command execution helpers.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Ex executes the named command in the given directory and
// returns combined stdout+stderr output. Pass empty dir to
// use the current working directory.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	out, _, err := ExStatus(ctx, dir, name, arg...)

	return out, err
}

// ExStatus executes the command and additionally returns
// the process exit code: 0 on success, the command's code
// on a clean non-zero exit, -1 when the command could not
// be started at all.
func ExStatus(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, int, error) {
	const errCtx = "executing command"

	slog.Info(
		"executing",
		"cmd", name,
		"args", strings.Join(arg, " "),
	)

	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	by, err := cmd.CombinedOutput()

	slog.Info("output", "result", string(by))

	if err != nil {
		code := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}

		return string(by), code, fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, strings.Join(arg, " "), err,
		)
	}

	return string(by), 0, nil
}
