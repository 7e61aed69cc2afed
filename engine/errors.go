package engine

import "fmt"

// RefNotFoundError reports a ref that does not resolve
// to any commit in the repository.
type RefNotFoundError struct {
	// Ref is the branch, tag, or SHA that failed to
	// resolve.
	Ref string
}

func (e *RefNotFoundError) Error() string {
	return fmt.Sprintf("ref %q not found", e.Ref)
}

// StaleRefError reports a failed compare-and-swap
// branch update: the branch head moved since it was
// last observed. The branch is left untouched.
type StaleRefError struct {
	Branch string
	// Expected is the head the caller assumed.
	Expected string
	// Actual is the head found on the host.
	Actual string
}

func (e *StaleRefError) Error() string {
	return fmt.Sprintf(
		"branch %q moved: expected head %s, found %s",
		e.Branch, e.Expected, e.Actual,
	)
}

// UnsupportedTreeEntryError reports a tree entry the
// delivery cannot materialize locally, such as a
// symlink or submodule touched by the patch.
type UnsupportedTreeEntryError struct {
	Path string
	// Mode is the git mode of the offending entry.
	Mode string
}

func (e *UnsupportedTreeEntryError) Error() string {
	return fmt.Sprintf(
		"unsupported tree entry %q (mode %s)",
		e.Path, e.Mode,
	)
}
