package cherry

import "fmt"

// MergeConflictError reports a patch that did not apply
// cleanly to the target branch's tree.
type MergeConflictError struct {
	// Output is the patch tool's combined output,
	// including per-hunk rejection details verbatim.
	Output string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf(
		"patch does not apply cleanly:\n%s", e.Output,
	)
}

// InvalidStateError reports an operation invoked from a
// state that does not allow it, such as committing a
// conflicted delivery. It signals a contract violation
// by the caller, not a runtime condition.
type InvalidStateError struct {
	// Op is the rejected operation.
	Op string
	// State is the controller state at the time of
	// the call.
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf(
		"%s not allowed in state %s", e.Op, e.State,
	)
}
