// Package cherry orchestrates one cherry-pick delivery
// against a remotely hosted repository: it resolves the
// base and target refs, fetches their diff, applies it
// to a scratch materialization of the target branch's
// tree with a local patch tool, and on a clean apply
// turns the patched tree back into remote blob, tree,
// and commit objects. No local clone is ever made.
//
// A Controller handles exactly one delivery at a time.
// Patch starts (or restarts) a delivery; Commit
// publishes it. A failed hunk surfaces as
// *MergeConflictError with the tool's reject output,
// and a branch head moved by a concurrent writer
// surfaces as *engine.StaleRefError from the
// compare-and-swap ref update.
package cherry
