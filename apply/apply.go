// Package apply abstracts the local patch-application tool used to
// replay a unified diff onto a working tree snapshot.
package apply

import (
	"context"
	"fmt"

	"github.com/byte4ever/ghcherry/exec"
)

// Pattern: Strategy -- swap the patch tool (or fake it
// in tests) without changing the delivery logic.

// Outcome is the result of one patch application.
type Outcome struct {
	// Applied is true when every hunk applied cleanly.
	Applied bool
	// Output is the tool's combined stdout+stderr,
	// including per-hunk rejection details verbatim.
	Output string
}

// Applier applies a unified diff stored in patchFile to
// the files under dir, mutating them in place. A hunk
// that does not apply is not an error: it is reported
// through Outcome.Applied. The error return is reserved
// for failures to run the tool at all.
type Applier interface {
	Apply(
		ctx context.Context,
		patchFile string,
		dir string,
	) (Outcome, error)
}

// Func adapts a plain function to the Applier
// interface.
type Func func(
	ctx context.Context,
	patchFile string,
	dir string,
) (Outcome, error)

// Apply delegates to the wrapped function.
func (f Func) Apply(
	ctx context.Context,
	patchFile string,
	dir string,
) (Outcome, error) {
	return f(ctx, patchFile, dir)
}

// GitApplier applies patches with "git apply --reject".
// Rejected hunks land in .rej files next to their
// targets and the command exits non-zero.
type GitApplier struct{}

// Apply runs git apply against dir. A non-zero exit is
// reported as Outcome.Applied == false with the
// rejection output; only a failure to start the tool
// returns an error.
func (GitApplier) Apply(
	ctx context.Context,
	patchFile string,
	dir string,
) (Outcome, error) {
	const errCtx = "running git apply"

	out, code, err := exec.ExStatus(
		ctx, dir,
		"git", "apply", "--verbose", "--reject",
		patchFile,
	)

	switch {
	case code == 0:
		return Outcome{Applied: true, Output: out}, nil
	case code > 0:
		return Outcome{Applied: false, Output: out}, nil
	default:
		return Outcome{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}
}
