package cherry_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/ghcherry/apply"
	"github.com/byte4ever/ghcherry/cherry"
	"github.com/byte4ever/ghcherry/engine"
)

var (
	shaBase   = strings.Repeat("a", 40)
	shaTarget = strings.Repeat("b", 40)
	shaHead   = strings.Repeat("c", 40)
	shaMoved  = strings.Repeat("d", 40)
)

const (
	mainPath   = "app/main.go"
	readmePath = "README.md"

	oldMain = "package main\n\nvar x = 1\n"
	newMain = "package main\n\nvar x = 2\n"
)

// blobSHA hashes content the way git does, so fake tree
// entries are consistent with what the controller
// computes from disk.
func blobSHA(content string) string {
	return plumbing.ComputeHash(
		plumbing.BlobObject, []byte(content),
	).String()
}

// gitDiff renders a one-file git-style unified diff.
func gitDiff(t *testing.T, path, from, to string) string {
	t.Helper()

	body, err := difflib.GetUnifiedDiffString(
		difflib.UnifiedDiff{
			A:        difflib.SplitLines(from),
			B:        difflib.SplitLines(to),
			FromFile: "a/" + path,
			ToFile:   "b/" + path,
			Context:  3,
		},
	)
	require.NoError(t, err)

	return fmt.Sprintf(
		"diff --git a/%s b/%s\n%s", path, path, body,
	)
}

type createdCommit struct {
	treeSHA   string
	parentSHA string
	message   string
	author    engine.Signature
}

// fakeEngine is an in-memory engine.Engine. Created
// objects get sequential fake SHAs and are recorded for
// assertions.
type fakeEngine struct {
	refs  map[string]string
	trees map[string]map[string]engine.TreeEntry
	blobs map[string][]byte
	diffs map[string]string
	log   []engine.Commit

	createdBlobs   map[string][]byte
	createdTrees   map[string][]engine.TreeEntry
	createdCommits map[string]createdCommit
	seq            int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		refs:           map[string]string{},
		trees:          map[string]map[string]engine.TreeEntry{},
		blobs:          map[string][]byte{},
		diffs:          map[string]string{},
		createdBlobs:   map[string][]byte{},
		createdTrees:   map[string][]engine.TreeEntry{},
		createdCommits: map[string]createdCommit{},
	}
}

func (f *fakeEngine) nextSHA(prefix string) string {
	f.seq++

	return fmt.Sprintf("%s%039d", prefix, f.seq)
}

func (f *fakeEngine) Resolve(
	_ context.Context, ref string,
) (string, error) {
	if engine.IsSHA(ref) {
		return strings.ToLower(ref), nil
	}

	sha, ok := f.refs[ref]
	if !ok {
		return "", &engine.RefNotFoundError{Ref: ref}
	}

	return sha, nil
}

func (f *fakeEngine) Diff(
	_ context.Context, baseSHA, targetSHA string,
) (string, error) {
	return f.diffs[baseSHA+".."+targetSHA], nil
}

func (f *fakeEngine) Commits(
	_ context.Context, fromSHA, _ string,
) iter.Seq2[engine.Commit, error] {
	return func(yield func(engine.Commit, error) bool) {
		for _, c := range f.log {
			if c.SHA == fromSHA {
				return
			}

			if !yield(c, nil) {
				return
			}
		}
	}
}

func (f *fakeEngine) TreeAt(
	_ context.Context, commitSHA string,
) (map[string]engine.TreeEntry, error) {
	tree, ok := f.trees[commitSHA]
	if !ok {
		return nil, &engine.RefNotFoundError{
			Ref: commitSHA,
		}
	}

	return tree, nil
}

func (f *fakeEngine) BlobContent(
	_ context.Context, blobSHA string,
) ([]byte, error) {
	content, ok := f.blobs[blobSHA]
	if !ok {
		return nil, fmt.Errorf(
			"no blob %s", blobSHA,
		)
	}

	return content, nil
}

func (f *fakeEngine) CreateBlob(
	_ context.Context, content []byte,
) (string, error) {
	sha := plumbing.ComputeHash(
		plumbing.BlobObject, content,
	).String()

	f.blobs[sha] = content
	f.createdBlobs[sha] = content

	return sha, nil
}

func (f *fakeEngine) CreateTree(
	_ context.Context, entries []engine.TreeEntry,
) (string, error) {
	sha := f.nextSHA("e")
	f.createdTrees[sha] = entries

	return sha, nil
}

func (f *fakeEngine) CreateCommit(
	_ context.Context,
	treeSHA string,
	parentSHA string,
	message string,
	author engine.Signature,
) (string, error) {
	sha := f.nextSHA("f")
	f.createdCommits[sha] = createdCommit{
		treeSHA:   treeSHA,
		parentSHA: parentSHA,
		message:   message,
		author:    author,
	}

	return sha, nil
}

func (f *fakeEngine) UpdateRef(
	_ context.Context,
	branch string,
	newSHA string,
	expectedOldSHA string,
) error {
	head := f.refs[branch]
	if head != expectedOldSHA {
		return &engine.StaleRefError{
			Branch:   branch,
			Expected: expectedOldSHA,
			Actual:   head,
		}
	}

	f.refs[branch] = newSHA

	return nil
}

// seededEngine returns a fake with one release branch
// whose tree holds main.go and README.md, plus the
// base..target diff touching main.go.
func seededEngine(t *testing.T) *fakeEngine {
	t.Helper()

	f := newFakeEngine()

	f.refs["release"] = shaHead

	mainSHA := blobSHA(oldMain)
	readmeSHA := blobSHA("docs\n")

	f.blobs[mainSHA] = []byte(oldMain)
	f.blobs[readmeSHA] = []byte("docs\n")

	f.trees[shaHead] = map[string]engine.TreeEntry{
		"app": {
			Path: "app",
			Mode: "040000",
			Type: "tree",
			SHA:  f.nextSHA("e"),
		},
		mainPath: {
			Path: mainPath,
			Mode: "100644",
			Type: "blob",
			SHA:  mainSHA,
		},
		readmePath: {
			Path: readmePath,
			Mode: "100644",
			Type: "blob",
			SHA:  readmeSHA,
		},
	}

	f.diffs[shaBase+".."+shaTarget] = gitDiff(
		t, mainPath, oldMain, newMain,
	)

	return f
}

// rewriteApplier checks that the touched file was
// materialized with its pre-patch content, then mutates
// it the way a clean apply would.
func rewriteApplier(t *testing.T) apply.Applier {
	t.Helper()

	return apply.Func(func(
		_ context.Context,
		patchFile string,
		dir string,
	) (apply.Outcome, error) {
		assert.FileExists(t, patchFile)

		full := filepath.Join(dir, mainPath)

		got, err := os.ReadFile(full) //nolint:gosec // test-owned path
		require.NoError(t, err)
		assert.Equal(t, oldMain, string(got))

		require.NoError(t, os.WriteFile(
			full, []byte(newMain), 0o600,
		))

		return apply.Outcome{Applied: true}, nil
	})
}

func newController(
	t *testing.T,
	eng engine.Engine,
	applier apply.Applier,
	updateBranch bool,
) *cherry.Controller {
	t.Helper()

	ctl, err := cherry.New(cherry.Config{
		Engine:       eng,
		Applier:      applier,
		TmpDir:       t.TempDir(),
		UpdateBranch: updateBranch,
	})
	require.NoError(t, err)

	return ctl
}

func TestNew_requires_engine(t *testing.T) {
	t.Parallel()

	ctl, err := cherry.New(cherry.Config{})

	assert.Nil(t, ctl)
	assert.ErrorContains(t, err, "engine")
}

func TestPatch_unknown_ref(t *testing.T) {
	t.Parallel()

	ctl := newController(
		t, newFakeEngine(), rewriteApplier(t), false,
	)

	err := ctl.Patch(
		context.Background(),
		"no-such-branch", shaTarget, "release",
	)

	var notFound *engine.RefNotFoundError

	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "no-such-branch", notFound.Ref)
	assert.Equal(t, cherry.StateIdle, ctl.State())
}

func TestCommit_from_idle(t *testing.T) {
	t.Parallel()

	ctl := newController(
		t, seededEngine(t), rewriteApplier(t), false,
	)

	_, err := ctl.Commit(context.Background(), "")

	var invalid *cherry.InvalidStateError

	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, cherry.StateIdle, invalid.State)
}

func TestPatch_conflict(t *testing.T) {
	t.Parallel()

	rejecting := apply.Func(func(
		_ context.Context, _, _ string,
	) (apply.Outcome, error) {
		return apply.Outcome{
			Applied: false,
			Output:  "1 hunk REJECTED",
		}, nil
	})

	ctl := newController(
		t, seededEngine(t), rejecting, false,
	)

	err := ctl.Patch(
		context.Background(),
		shaBase, shaTarget, "release",
	)

	var conflict *cherry.MergeConflictError

	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Output, "REJECTED")
	assert.Equal(t, cherry.StateConflicted, ctl.State())

	// Snapshot retained for inspection.
	assert.DirExists(t, ctl.WorkspaceDir())

	// Commit is a contract violation from here.
	_, err = ctl.Commit(context.Background(), "")

	var invalid *cherry.InvalidStateError

	require.ErrorAs(t, err, &invalid)
	assert.Equal(
		t, cherry.StateConflicted, invalid.State,
	)
}

func TestPatch_then_commit_end_to_end(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)
	ctl := newController(t, eng, rewriteApplier(t), true)

	ctx := context.Background()

	require.NoError(t, ctl.Patch(
		ctx, shaBase, shaTarget, "release",
	))
	assert.Equal(t, cherry.StatePatched, ctl.State())

	result, err := ctl.Commit(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, cherry.StateCommitted, ctl.State())
	assert.True(t, result.BranchUpdated)
	assert.Equal(
		t,
		"Cherry pick between "+shaBase+
			" and "+shaTarget,
		result.Message,
	)

	// Exactly one blob uploaded: the changed file.
	require.Len(t, eng.createdBlobs, 1)
	assert.Equal(
		t,
		[]byte(newMain),
		eng.createdBlobs[blobSHA(newMain)],
	)

	// The tree swaps the touched SHA and reuses the
	// untouched one.
	entries := eng.createdTrees[result.TreeSHA]
	require.Len(t, entries, 2)

	byPath := map[string]engine.TreeEntry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}

	assert.Equal(
		t, blobSHA(newMain), byPath[mainPath].SHA,
	)
	assert.Equal(
		t, blobSHA("docs\n"), byPath[readmePath].SHA,
	)

	// Parented on the recorded head, branch moved.
	created := eng.createdCommits[result.SHA]
	assert.Equal(t, shaHead, created.parentSHA)
	assert.Equal(t, result.SHA, eng.refs["release"])

	// Workspace removed on success.
	assert.Empty(t, ctl.WorkspaceDir())
}

func TestPatch_identical_commits(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)

	noApply := apply.Func(func(
		_ context.Context, _, _ string,
	) (apply.Outcome, error) {
		t.Fatal("applier must not run on empty diff")

		return apply.Outcome{}, nil
	})

	ctl := newController(t, eng, noApply, false)
	ctx := context.Background()

	require.NoError(t, ctl.Patch(
		ctx, shaBase, shaBase, "release",
	))
	assert.Equal(t, cherry.StatePatched, ctl.State())

	result, err := ctl.Commit(ctx, "no-op delivery")
	require.NoError(t, err)

	// Tree identical to the pre-patch branch tree, no
	// blobs uploaded.
	assert.Empty(t, eng.createdBlobs)

	entries := eng.createdTrees[result.TreeSHA]
	require.Len(t, entries, 2)
	assert.False(t, result.BranchUpdated)
}

func TestCommit_stale_head(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)
	ctl := newController(t, eng, rewriteApplier(t), true)

	ctx := context.Background()

	require.NoError(t, ctl.Patch(
		ctx, shaBase, shaTarget, "release",
	))

	// Another writer advances the branch between
	// Patch and Commit.
	eng.refs["release"] = shaMoved

	_, err := ctl.Commit(ctx, "")

	var stale *engine.StaleRefError

	require.ErrorAs(t, err, &stale)
	assert.Equal(t, shaHead, stale.Expected)
	assert.Equal(t, shaMoved, stale.Actual)

	// Branch untouched, commit object orphaned, state
	// kept so the caller restarts with Patch.
	assert.Equal(t, shaMoved, eng.refs["release"])
	assert.NotEmpty(t, eng.createdCommits)
	assert.Equal(t, cherry.StatePatched, ctl.State())
}

func TestCommit_untouched_content_reuses_sha(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)

	// The applier leaves the file byte-identical, so
	// no new blob may be uploaded.
	identity := apply.Func(func(
		_ context.Context, _, _ string,
	) (apply.Outcome, error) {
		return apply.Outcome{Applied: true}, nil
	})

	ctl := newController(t, eng, identity, false)
	ctx := context.Background()

	require.NoError(t, ctl.Patch(
		ctx, shaBase, shaTarget, "release",
	))

	result, err := ctl.Commit(ctx, "")
	require.NoError(t, err)

	assert.Empty(t, eng.createdBlobs)

	entries := eng.createdTrees[result.TreeSHA]
	require.Len(t, entries, 2)
}

func TestCommit_deletion(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)
	eng.diffs[shaBase+".."+shaTarget] = fmt.Sprintf(
		"diff --git a/%s b/%s\n"+
			"deleted file mode 100644\n"+
			"--- a/%s\n+++ /dev/null\n",
		mainPath, mainPath, mainPath,
	)

	deleting := apply.Func(func(
		_ context.Context, _ string, dir string,
	) (apply.Outcome, error) {
		err := os.Remove(filepath.Join(dir, mainPath))

		return apply.Outcome{Applied: true}, err
	})

	ctl := newController(t, eng, deleting, false)
	ctx := context.Background()

	require.NoError(t, ctl.Patch(
		ctx, shaBase, shaTarget, "release",
	))

	result, err := ctl.Commit(ctx, "")
	require.NoError(t, err)

	entries := eng.createdTrees[result.TreeSHA]
	require.Len(t, entries, 1)
	assert.Equal(t, readmePath, entries[0].Path)
}

func TestPatch_symlink_is_unsupported(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)
	eng.trees[shaHead][mainPath] = engine.TreeEntry{
		Path: mainPath,
		Mode: "120000",
		Type: "blob",
		SHA:  blobSHA("target"),
	}

	ctl := newController(
		t, eng, rewriteApplier(t), false,
	)

	err := ctl.Patch(
		context.Background(),
		shaBase, shaTarget, "release",
	)

	var unsupported *engine.UnsupportedTreeEntryError

	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, mainPath, unsupported.Path)
}

func TestCommit_pure_rename_keeps_mode(t *testing.T) {
	t.Parallel()

	const (
		oldScript = "tools/run.sh"
		newScript = "tools/start.sh"
		script    = "#!/bin/sh\necho ok\n"
	)

	eng := seededEngine(t)

	scriptSHA := blobSHA(script)
	eng.blobs[scriptSHA] = []byte(script)
	eng.trees[shaHead][oldScript] = engine.TreeEntry{
		Path: oldScript,
		Mode: "100755",
		Type: "blob",
		SHA:  scriptSHA,
	}

	// A pure rename the way git renders it: no mode
	// header, no hunks.
	eng.diffs[shaBase+".."+shaTarget] = fmt.Sprintf(
		"diff --git a/%s b/%s\n"+
			"similarity index 100%%\n"+
			"rename from %s\nrename to %s\n",
		oldScript, newScript, oldScript, newScript,
	)

	renaming := apply.Func(func(
		_ context.Context, _ string, dir string,
	) (apply.Outcome, error) {
		err := os.Rename(
			filepath.Join(dir, oldScript),
			filepath.Join(dir, newScript),
		)

		return apply.Outcome{Applied: true}, err
	})

	ctl := newController(t, eng, renaming, false)
	ctx := context.Background()

	require.NoError(t, ctl.Patch(
		ctx, shaBase, shaTarget, "release",
	))

	result, err := ctl.Commit(ctx, "")
	require.NoError(t, err)

	// Identical content moves by SHA: nothing is
	// uploaded.
	assert.Empty(t, eng.createdBlobs)

	entries := eng.createdTrees[result.TreeSHA]
	require.Len(t, entries, 3)

	byPath := map[string]engine.TreeEntry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}

	require.Contains(t, byPath, newScript)
	assert.NotContains(t, byPath, oldScript)

	// The executable bit survives the rename.
	assert.Equal(t, "100755", byPath[newScript].Mode)
	assert.Equal(t, scriptSHA, byPath[newScript].SHA)
	assert.Equal(t, newScript, byPath[newScript].Path)
}

func TestPatch_records_resolved_shas(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)
	eng.refs["v1.0"] = shaBase
	eng.refs["dev"] = shaTarget
	eng.diffs[shaBase+".."+shaTarget] = ""

	ctl := newController(
		t, eng, rewriteApplier(t), false,
	)
	ctx := context.Background()

	require.NoError(t, ctl.Patch(
		ctx, "v1.0", "dev", "release",
	))

	assert.Equal(t, shaBase, ctl.BaseSHA())
	assert.Equal(t, shaTarget, ctl.TargetSHA())

	// Moving the tips afterwards must not change what
	// the delivery resolved.
	eng.refs["v1.0"] = shaMoved
	eng.refs["dev"] = shaMoved

	assert.Equal(t, shaBase, ctl.BaseSHA())
	assert.Equal(t, shaTarget, ctl.TargetSHA())
}

func TestPatch_restarts_after_conflict(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)

	calls := 0
	flaky := apply.Func(func(
		_ context.Context, _, _ string,
	) (apply.Outcome, error) {
		calls++
		if calls == 1 {
			return apply.Outcome{
				Applied: false,
				Output:  "rejected",
			}, nil
		}

		return apply.Outcome{Applied: true}, nil
	})

	ctl := newController(t, eng, flaky, false)
	ctx := context.Background()

	err := ctl.Patch(ctx, shaBase, shaTarget, "release")
	require.True(
		t,
		errors.As(err, new(*cherry.MergeConflictError)),
	)

	require.NoError(t, ctl.Patch(
		ctx, shaBase, shaTarget, "release",
	))
	assert.Equal(t, cherry.StatePatched, ctl.State())
}
