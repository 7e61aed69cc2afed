package engine

import (
	"context"
	"iter"
	"regexp"
	"time"
)

// Pattern: Strategy -- swap git hosting API without
// changing the delivery logic.

// TreeEntry is one entry of a recursive tree listing:
// a blob, sub-tree, symlink, or submodule.
type TreeEntry struct {
	// Path is the full slash-separated path from the
	// repository root.
	Path string
	// Mode is the git file mode ("100644", "100755",
	// "040000", "120000", "160000").
	Mode string
	// Type is the object type ("blob", "tree",
	// "commit").
	Type string
	// SHA is the object identifier.
	SHA string
}

// Signature identifies a commit author.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is the metadata of a single commit as
// returned by the host.
type Commit struct {
	SHA     string
	TreeSHA string
	Message string
	Author  Signature
	Parents []string
}

// Engine performs all remote-API interaction for one
// repository. Operations are synchronous and stateless
// with respect to each other beyond shared connection
// configuration.
type Engine interface {
	// Resolve converts a branch name, tag name, or
	// full SHA into a commit SHA. A full SHA passes
	// through unchanged. Fails with *RefNotFoundError
	// when nothing matches.
	Resolve(ctx context.Context, ref string) (string, error)

	// Diff returns the raw unified diff between two
	// commits. Identical commits yield an empty diff.
	Diff(ctx context.Context, baseSHA, targetSHA string) (string, error)

	// Commits iterates the commits in the ancestry
	// range (fromSHA, toSHA], newest first as returned
	// by the host. The sequence is lazy and may be
	// restarted; each restart re-queries the host.
	Commits(ctx context.Context, fromSHA, toSHA string) iter.Seq2[Commit, error]

	// TreeAt returns the full recursive tree listing
	// of the given commit, keyed by path.
	TreeAt(ctx context.Context, commitSHA string) (map[string]TreeEntry, error)

	// BlobContent returns the raw content of a blob.
	BlobContent(ctx context.Context, blobSHA string) ([]byte, error)

	// CreateBlob uploads content as a new blob and
	// returns its SHA.
	CreateBlob(ctx context.Context, content []byte) (string, error)

	// CreateTree creates a tree from full-path entries
	// with no base tree: paths left out are absent
	// from the new tree.
	CreateTree(ctx context.Context, entries []TreeEntry) (string, error)

	// CreateCommit creates a commit pointing at
	// treeSHA with a single parent.
	CreateCommit(
		ctx context.Context,
		treeSHA string,
		parentSHA string,
		message string,
		author Signature,
	) (string, error)

	// UpdateRef points branch at newSHA only if the
	// branch head still equals expectedOldSHA, and
	// never force-updates. A moved head fails with
	// *StaleRefError without mutating the branch.
	UpdateRef(ctx context.Context, branch, newSHA, expectedOldSHA string) error
}

var shaRe = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// IsSHA reports whether ref is a full 40-character hex
// commit identifier.
func IsSHA(ref string) bool {
	return shaRe.MatchString(ref)
}
