package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/ghcherry/engine"
)

// commitsPerPage is the page size used when listing
// commit ranges.
const commitsPerPage = 100

// Engine drives one GitHub repository through the REST
// API.
//
// Pattern: Strategy -- implements engine.Engine.
type Engine struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewEngine validates cfg and returns an Engine bound
// to one repository.
func NewEngine(cfg Config) (*Engine, error) {
	const errCtx = "creating github engine"

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var client *gh.Client

	if cfg.Token != "" {
		client = gh.NewClient(nil).
			WithAuthToken(cfg.Token)
	} else {
		tp := &gh.BasicAuthTransport{
			Username: cfg.Username,
			Password: cfg.Password,
		}
		client = gh.NewClient(tp.Client())
	}

	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: base url: %w", errCtx, err,
			)
		}

		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}

		client.BaseURL = base
		client.UploadURL = base
	}

	return &Engine{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
	}, nil
}

// Resolve converts a branch name, tag name, or full SHA
// into a commit SHA. Annotated tags are peeled to the
// commit they point at.
func (e *Engine) Resolve(
	ctx context.Context,
	ref string,
) (string, error) {
	const errCtx = "resolving ref"

	if engine.IsSHA(ref) {
		return strings.ToLower(ref), nil
	}

	for _, namespace := range []string{"heads/", "tags/"} {
		got, resp, err := e.client.Git.GetRef(
			ctx, e.owner, e.repo, namespace+ref,
		)
		if err == nil {
			return e.peel(ctx, got.GetObject())
		}

		if !isNotFound(resp) {
			return "", fmt.Errorf(
				"%s %q: %w", errCtx, ref, err,
			)
		}
	}

	return "", &engine.RefNotFoundError{Ref: ref}
}

// peel follows an annotated tag object to its target
// commit. Commit objects pass through.
func (e *Engine) peel(
	ctx context.Context,
	obj *gh.GitObject,
) (string, error) {
	const errCtx = "peeling tag"

	if obj.GetType() != "tag" {
		return obj.GetSHA(), nil
	}

	tag, _, err := e.client.Git.GetTag(
		ctx, e.owner, e.repo, obj.GetSHA(),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return tag.GetObject().GetSHA(), nil
}

// Diff returns the raw unified diff between two
// commits via the compare endpoint.
func (e *Engine) Diff(
	ctx context.Context,
	baseSHA string,
	targetSHA string,
) (string, error) {
	const errCtx = "fetching diff"

	raw, resp, err := e.client.Repositories.CompareCommitsRaw(
		ctx, e.owner, e.repo,
		baseSHA, targetSHA,
		gh.RawOptions{Type: gh.Diff},
	)
	if err != nil {
		if isNotFound(resp) {
			return "", &engine.RefNotFoundError{
				Ref: baseSHA + "..." + targetSHA,
			}
		}

		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return raw, nil
}

// Commits iterates the commits in the range
// (fromSHA, toSHA], newest first. The sequence pages
// through the host lazily and may be restarted.
func (e *Engine) Commits(
	ctx context.Context,
	fromSHA string,
	toSHA string,
) iter.Seq2[engine.Commit, error] {
	const errCtx = "listing commits"

	return func(yield func(engine.Commit, error) bool) {
		opt := &gh.CommitsListOptions{
			SHA: toSHA,
			ListOptions: gh.ListOptions{
				PerPage: commitsPerPage,
			},
		}

		for {
			commits, resp, err := e.client.Repositories.ListCommits(
				ctx, e.owner, e.repo, opt,
			)
			if err != nil {
				yield(engine.Commit{}, fmt.Errorf(
					"%s: %w", errCtx, err,
				))

				return
			}

			for _, rc := range commits {
				if rc.GetSHA() == fromSHA {
					return
				}

				if !yield(toCommit(rc), nil) {
					return
				}
			}

			if resp.NextPage == 0 {
				return
			}

			opt.Page = resp.NextPage
		}
	}
}

// toCommit converts a repository commit to the engine
// representation.
func toCommit(rc *gh.RepositoryCommit) engine.Commit {
	c := rc.GetCommit()

	parents := make([]string, 0, len(rc.Parents))
	for _, p := range rc.Parents {
		parents = append(parents, p.GetSHA())
	}

	return engine.Commit{
		SHA:     rc.GetSHA(),
		TreeSHA: c.GetTree().GetSHA(),
		Message: c.GetMessage(),
		Author: engine.Signature{
			Name:  c.GetAuthor().GetName(),
			Email: c.GetAuthor().GetEmail(),
			When:  c.GetAuthor().GetDate().Time,
		},
		Parents: parents,
	}
}

// TreeAt returns the full recursive tree listing of
// the given commit, keyed by path.
func (e *Engine) TreeAt(
	ctx context.Context,
	commitSHA string,
) (map[string]engine.TreeEntry, error) {
	const errCtx = "fetching tree"

	commit, _, err := e.client.Git.GetCommit(
		ctx, e.owner, e.repo, commitSHA,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: commit %s: %w", errCtx, commitSHA, err,
		)
	}

	tree, _, err := e.client.Git.GetTree(
		ctx, e.owner, e.repo,
		commit.GetTree().GetSHA(),
		true,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// A truncated listing would silently drop paths
	// from the rebuilt tree.
	if tree.GetTruncated() {
		return nil, fmt.Errorf(
			"%s: listing truncated by host", errCtx,
		)
	}

	entries := make(
		map[string]engine.TreeEntry, len(tree.Entries),
	)

	for _, te := range tree.Entries {
		entries[te.GetPath()] = engine.TreeEntry{
			Path: te.GetPath(),
			Mode: te.GetMode(),
			Type: te.GetType(),
			SHA:  te.GetSHA(),
		}
	}

	return entries, nil
}

// BlobContent returns the raw content of a blob.
func (e *Engine) BlobContent(
	ctx context.Context,
	blobSHA string,
) ([]byte, error) {
	const errCtx = "fetching blob"

	content, _, err := e.client.Git.GetBlobRaw(
		ctx, e.owner, e.repo, blobSHA,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s %s: %w", errCtx, blobSHA, err,
		)
	}

	return content, nil
}

// CreateBlob uploads content as a base64-encoded blob
// and returns its SHA.
func (e *Engine) CreateBlob(
	ctx context.Context,
	content []byte,
) (string, error) {
	const errCtx = "creating blob"

	blob := &gh.Blob{
		Content: gh.String(
			base64.StdEncoding.EncodeToString(content),
		),
		Encoding: gh.String("base64"),
	}

	created, _, err := e.client.Git.CreateBlob(
		ctx, e.owner, e.repo, blob,
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return created.GetSHA(), nil
}

// CreateTree creates a tree from full-path entries
// with no base tree: paths left out are deletions.
func (e *Engine) CreateTree(
	ctx context.Context,
	entries []engine.TreeEntry,
) (string, error) {
	const errCtx = "creating tree"

	ghEntries := make([]*gh.TreeEntry, 0, len(entries))

	for _, te := range entries {
		ghEntries = append(ghEntries, &gh.TreeEntry{
			Path: gh.String(te.Path),
			Mode: gh.String(te.Mode),
			Type: gh.String(te.Type),
			SHA:  gh.String(te.SHA),
		})
	}

	created, _, err := e.client.Git.CreateTree(
		ctx, e.owner, e.repo, "", ghEntries,
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return created.GetSHA(), nil
}

// CreateCommit creates a commit pointing at treeSHA
// with a single parent.
func (e *Engine) CreateCommit(
	ctx context.Context,
	treeSHA string,
	parentSHA string,
	message string,
	author engine.Signature,
) (string, error) {
	const errCtx = "creating commit"

	commit := &gh.Commit{
		Message: gh.String(message),
		Tree:    &gh.Tree{SHA: gh.String(treeSHA)},
		Parents: []*gh.Commit{
			{SHA: gh.String(parentSHA)},
		},
	}

	if author.Name != "" {
		commit.Author = &gh.CommitAuthor{
			Name:  gh.String(author.Name),
			Email: gh.String(author.Email),
			Date:  &gh.Timestamp{Time: author.When},
		}
	}

	created, _, err := e.client.Git.CreateCommit(
		ctx, e.owner, e.repo, commit, nil,
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return created.GetSHA(), nil
}

// UpdateRef points branch at newSHA only when the
// branch head still equals expectedOldSHA. The update
// is never forced, so it is fast-forward only.
func (e *Engine) UpdateRef(
	ctx context.Context,
	branch string,
	newSHA string,
	expectedOldSHA string,
) error {
	const errCtx = "updating ref"

	refName := "heads/" + branch

	current, _, err := e.client.Git.GetRef(
		ctx, e.owner, e.repo, refName,
	)
	if err != nil {
		return fmt.Errorf(
			"%s %q: %w", errCtx, branch, err,
		)
	}

	head := current.GetObject().GetSHA()
	if head != expectedOldSHA {
		return &engine.StaleRefError{
			Branch:   branch,
			Expected: expectedOldSHA,
			Actual:   head,
		}
	}

	updated := &gh.Reference{
		Ref: gh.String("refs/" + refName),
		Object: &gh.GitObject{
			SHA: gh.String(newSHA),
		},
	}

	_, _, err = e.client.Git.UpdateRef(
		ctx, e.owner, e.repo, updated, false,
	)
	if err != nil {
		return fmt.Errorf(
			"%s %q: %w", errCtx, branch, err,
		)
	}

	return nil
}

// isNotFound reports whether resp is an HTTP 404.
func isNotFound(resp *gh.Response) bool {
	return resp != nil &&
		resp.StatusCode == http.StatusNotFound
}
