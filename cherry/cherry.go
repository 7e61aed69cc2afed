package cherry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/byte4ever/ghcherry/apply"
	"github.com/byte4ever/ghcherry/commitmsg"
	"github.com/byte4ever/ghcherry/engine"
	"github.com/byte4ever/ghcherry/unidiff"
	"github.com/byte4ever/ghcherry/workspace"
)

// State is the controller's position in one delivery.
type State int

// Delivery states, in the order a clean delivery moves
// through them. Conflicted is a dead end for Commit;
// only a new Patch call leaves it.
const (
	StateIdle State = iota
	StatePrepared
	StateMaterialized
	StatePatched
	StateConflicted
	StateCommitted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateMaterialized:
		return "materialized"
	case StatePatched:
		return "patched"
	case StateConflicted:
		return "conflicted"
	case StateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const defaultFileMode = "100644"

// Config holds the settings for a Controller.
type Config struct {
	// Engine performs all remote-API interaction.
	Engine engine.Engine

	// Applier applies the fetched diff to the scratch
	// snapshot. Defaults to apply.GitApplier.
	Applier apply.Applier

	// TmpDir is the base directory for scratch
	// workspaces (system temp dir when empty).
	TmpDir string

	// Author is stamped on created commits. The
	// host's authenticated identity is used when
	// empty.
	Author engine.Signature

	// UpdateBranch makes Commit move the branch ref
	// to the new commit with a compare-and-swap
	// against the head recorded at Patch time. When
	// false the commit is created but the branch is
	// left untouched.
	UpdateBranch bool
}

// CommitResult describes a published delivery.
type CommitResult struct {
	// SHA is the new commit.
	SHA string `json:"sha"`
	// TreeSHA is the commit's tree.
	TreeSHA string `json:"tree_sha"`
	// Message is the message actually used, default
	// or caller-supplied.
	Message string `json:"message"`
	// BranchUpdated is true when the branch ref was
	// moved to SHA.
	BranchUpdated bool `json:"branch_updated"`
}

// Controller runs one cherry-pick delivery at a time.
// It is not safe for concurrent use.
type Controller struct {
	cfg   Config
	state State

	baseSHA   string
	targetSHA string
	branch    string
	// headSHA is the target branch head observed at
	// Patch time; Commit parents on it and CASes the
	// ref against it.
	headSHA string

	tree    map[string]engine.TreeEntry
	changes []unidiff.Change
	ws      *workspace.Workspace
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	const errCtx = "creating controller"

	if cfg.Engine == nil {
		return nil, fmt.Errorf(
			"%s: engine must be set", errCtx,
		)
	}

	if cfg.Applier == nil {
		cfg.Applier = apply.GitApplier{}
	}

	return &Controller{cfg: cfg}, nil
}

// Engine exposes the underlying engine for auxiliary
// queries such as listing the commits in a range.
func (c *Controller) Engine() engine.Engine {
	return c.cfg.Engine
}

// State returns the current delivery state.
func (c *Controller) State() State {
	return c.state
}

// BaseSHA returns the base commit resolved by the last
// Patch call. Refs are resolved exactly once per
// delivery; a tip moved afterwards does not change it.
func (c *Controller) BaseSHA() string {
	return c.baseSHA
}

// TargetSHA returns the target commit resolved by the
// last Patch call.
func (c *Controller) TargetSHA() string {
	return c.targetSHA
}

// WorkspaceDir returns the scratch files directory of
// the in-flight delivery, or empty when none exists.
// After a conflict it holds the partially patched files
// and .rej hunks for inspection.
func (c *Controller) WorkspaceDir() string {
	if c.ws == nil {
		return ""
	}

	return c.ws.FilesDir()
}

// Patch starts a new delivery: resolve base, target,
// and targetBranch, fetch the base..target diff, fetch
// the branch head's tree, materialize the touched paths
// locally, and apply the diff. Any prior delivery's
// snapshot is discarded first.
//
// A clean apply leaves the controller in StatePatched,
// ready for Commit. A rejected hunk returns
// *MergeConflictError and retains the snapshot for
// inspection. An unresolved ref returns
// *engine.RefNotFoundError.
func (c *Controller) Patch(
	ctx context.Context,
	base string,
	target string,
	targetBranch string,
) error {
	const errCtx = "patching"

	c.discard()

	var err error

	c.baseSHA, err = c.cfg.Engine.Resolve(ctx, base)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	c.targetSHA, err = c.cfg.Engine.Resolve(ctx, target)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	c.branch = targetBranch

	c.headSHA, err = c.cfg.Engine.Resolve(
		ctx, targetBranch,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	c.state = StatePrepared

	slog.Info(
		"delivery prepared",
		"base", c.baseSHA,
		"target", c.targetSHA,
		"branch", c.branch,
		"head", c.headSHA,
	)

	diff, err := c.cfg.Engine.Diff(
		ctx, c.baseSHA, c.targetSHA,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	c.tree, err = c.cfg.Engine.TreeAt(ctx, c.headSHA)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	c.changes = unidiff.Parse(diff)

	if err := c.materialize(ctx); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	c.state = StateMaterialized

	return c.applyPatch(ctx, diff)
}

// materialize downloads the pre-patch content of every
// touched path into a fresh workspace. Paths absent
// from the branch tree are left to the patch tool to
// create.
func (c *Controller) materialize(
	ctx context.Context,
) error {
	ws, err := workspace.New(c.cfg.TmpDir)
	if err != nil {
		return err
	}

	c.ws = ws

	for _, change := range c.changes {
		path := change.OldPath
		if path == "" {
			path = change.Path
		}

		entry, ok := c.tree[path]
		if !ok {
			continue
		}

		if entry.Type != "blob" ||
			entry.Mode == "120000" {
			c.discard()

			return &engine.UnsupportedTreeEntryError{
				Path: path,
				Mode: entry.Mode,
			}
		}

		content, err := c.cfg.Engine.BlobContent(
			ctx, entry.SHA,
		)
		if err != nil {
			c.discard()

			return err
		}

		if err := ws.WriteFile(
			path, content, entry.Mode,
		); err != nil {
			c.discard()

			return err
		}
	}

	return nil
}

// applyPatch runs the applier and settles the delivery
// into StatePatched or StateConflicted. An empty diff
// is a clean no-op apply.
func (c *Controller) applyPatch(
	ctx context.Context,
	diff string,
) error {
	const errCtx = "applying patch"

	if diff == "" {
		c.state = StatePatched

		return nil
	}

	patchFile, err := c.ws.WritePatch(diff)
	if err != nil {
		c.discard()

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	outcome, err := c.cfg.Applier.Apply(
		ctx, patchFile, c.ws.FilesDir(),
	)
	if err != nil {
		c.discard()

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if !outcome.Applied {
		c.state = StateConflicted

		slog.Warn(
			"patch rejected",
			"workspace", c.ws.FilesDir(),
		)

		return &MergeConflictError{
			Output: outcome.Output,
		}
	}

	c.state = StatePatched

	return nil
}

// Commit publishes a cleanly patched delivery: upload
// changed files as blobs, build the post-patch tree
// reusing unchanged entries by SHA, create a commit
// parented on the head recorded at Patch time, and,
// when UpdateBranch is set, move the branch ref with a
// compare-and-swap against that same head.
//
// An empty message selects a generated default. Outside
// StatePatched the call fails with *InvalidStateError.
// A moved branch head fails with *engine.StaleRefError;
// the created objects stay orphaned on the host and the
// delivery state is kept, so the caller can restart
// with Patch.
func (c *Controller) Commit(
	ctx context.Context,
	message string,
) (CommitResult, error) {
	const errCtx = "committing"

	if c.state != StatePatched {
		return CommitResult{}, &InvalidStateError{
			Op:    "commit",
			State: c.state,
		}
	}

	if message == "" {
		message = commitmsg.Default(
			c.baseSHA, c.targetSHA,
		)
	}

	entries, err := c.buildEntries(ctx)
	if err != nil {
		return CommitResult{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	treeSHA, err := c.cfg.Engine.CreateTree(
		ctx, entries,
	)
	if err != nil {
		return CommitResult{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	commitSHA, err := c.cfg.Engine.CreateCommit(
		ctx, treeSHA, c.headSHA, message, c.cfg.Author,
	)
	if err != nil {
		return CommitResult{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	updated := false

	if c.cfg.UpdateBranch {
		err := c.cfg.Engine.UpdateRef(
			ctx, c.branch, commitSHA, c.headSHA,
		)
		if err != nil {
			return CommitResult{}, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		updated = true
	}

	c.discard()
	c.state = StateCommitted

	slog.Info(
		"delivery committed",
		"commit", commitSHA,
		"tree", treeSHA,
		"branch_updated", updated,
	)

	return CommitResult{
		SHA:           commitSHA,
		TreeSHA:       treeSHA,
		Message:       message,
		BranchUpdated: updated,
	}, nil
}

// buildEntries assembles the post-patch tree: every
// pre-patch non-directory entry survives by SHA unless
// the diff touched it; touched files are re-hashed on
// disk and uploaded only when their content actually
// changed.
func (c *Controller) buildEntries(
	ctx context.Context,
) ([]engine.TreeEntry, error) {
	kept := make(
		map[string]engine.TreeEntry, len(c.tree),
	)

	for path, entry := range c.tree {
		if entry.Type == "tree" {
			continue
		}

		kept[path] = entry
	}

	for _, change := range c.changes {
		prior, hadPrior := kept[change.Path]

		// On a rename the prior entry lives under the
		// old path; it still provides the SHA-reuse
		// check and the mode to inherit.
		if change.OldPath != "" &&
			change.OldPath != change.Path {
			if old, ok := kept[change.OldPath]; ok &&
				!hadPrior {
				prior, hadPrior = old, true
			}

			delete(kept, change.OldPath)
		}

		if change.Deleted {
			delete(kept, change.Path)

			continue
		}

		sha, exists, err := c.ws.BlobSHA(change.Path)
		if err != nil {
			return nil, err
		}

		// The tool removed the file entirely, e.g. a
		// rename source or an emptied directory.
		if !exists {
			delete(kept, change.Path)

			continue
		}

		if hadPrior && prior.SHA == sha {
			prior.Path = change.Path

			if change.Mode != "" {
				prior.Mode = change.Mode
			}

			kept[change.Path] = prior

			continue
		}

		content, _, err := c.ws.ReadFile(change.Path)
		if err != nil {
			return nil, err
		}

		blobSHA, err := c.cfg.Engine.CreateBlob(
			ctx, content,
		)
		if err != nil {
			return nil, err
		}

		mode := change.Mode
		if mode == "" {
			mode = defaultFileMode
			if hadPrior {
				mode = prior.Mode
			}
		}

		kept[change.Path] = engine.TreeEntry{
			Path: change.Path,
			Mode: mode,
			Type: "blob",
			SHA:  blobSHA,
		}
	}

	entries := make(
		[]engine.TreeEntry, 0, len(kept),
	)
	for _, entry := range kept {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	return entries, nil
}

// discard drops the scratch workspace, if any, and
// returns the controller to idle bookkeeping. Removal
// failures are logged, not propagated: the workspace
// lives under the temp dir and never affects the
// remote branch.
func (c *Controller) discard() {
	if c.ws != nil {
		if err := c.ws.Remove(); err != nil {
			slog.Warn(
				"workspace removal failed",
				"error", err,
			)
		}

		c.ws = nil
	}

	c.state = StateIdle
}
