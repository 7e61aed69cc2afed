// Package workspace manages the ephemeral working tree
// snapshot a patch is applied to: a temporary directory
// holding only the files the diff touches, plus the
// patch file itself.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// filesSubdir holds the materialized files. It is
	// named "b" so hunk targets like "b/path" line up
	// with the diff header convention.
	filesSubdir = "b"

	patchFileName = "patch"

	executableMode = "100755"
)

// Workspace is a scratch materialization owned by one
// delivery. Create with New, discard with Remove.
type Workspace struct {
	root     string
	filesDir string
}

// New creates a fresh workspace under baseDir (the
// system temp dir when empty).
func New(baseDir string) (*Workspace, error) {
	const errCtx = "creating workspace"

	root, err := os.MkdirTemp(baseDir, "ghcherry_wd_")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	filesDir := filepath.Join(root, filesSubdir)

	if err := os.Mkdir(filesDir, 0o750); err != nil {
		return nil, fmt.Errorf(
			"%s: files dir: %w", errCtx, err,
		)
	}

	return &Workspace{
		root:     root,
		filesDir: filesDir,
	}, nil
}

// FilesDir returns the directory the patch tool should
// operate on.
func (w *Workspace) FilesDir() string {
	return w.filesDir
}

// WritePatch stores the diff next to the files dir and
// returns the patch file path.
func (w *Workspace) WritePatch(diff string) (string, error) {
	const errCtx = "writing patch file"

	path := filepath.Join(w.root, patchFileName)

	err := os.WriteFile(path, []byte(diff), 0o600)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return path, nil
}

// WriteFile materializes one file under the files dir,
// creating parent directories as needed. A git mode of
// "100755" yields an executable file.
func (w *Workspace) WriteFile(
	path string,
	content []byte,
	mode string,
) error {
	const errCtx = "materializing file"

	full := filepath.Join(w.filesDir, filepath.FromSlash(path))

	if err := os.MkdirAll(
		filepath.Dir(full), 0o750,
	); err != nil {
		return fmt.Errorf(
			"%s %q: %w", errCtx, path, err,
		)
	}

	perm := os.FileMode(0o644)
	if mode == executableMode {
		perm = 0o755
	}

	if err := os.WriteFile(full, content, perm); err != nil {
		return fmt.Errorf(
			"%s %q: %w", errCtx, path, err,
		)
	}

	return nil
}

// ReadFile returns the content of a materialized file
// and whether it exists. The patch tool may have
// deleted it since materialization.
func (w *Workspace) ReadFile(
	path string,
) ([]byte, bool, error) {
	const errCtx = "reading file"

	full := filepath.Join(w.filesDir, filepath.FromSlash(path))

	content, err := os.ReadFile(full) //nolint:gosec // paths come from the diff under delivery
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf(
			"%s %q: %w", errCtx, path, err,
		)
	}

	return content, true, nil
}

// BlobSHA hashes a materialized file the way git hashes
// a blob, so the result is directly comparable with
// remote tree entry SHAs. The second return is false
// when the file does not exist.
func (w *Workspace) BlobSHA(
	path string,
) (string, bool, error) {
	content, ok, err := w.ReadFile(path)
	if err != nil || !ok {
		return "", ok, err
	}

	hash := plumbing.ComputeHash(
		plumbing.BlobObject, content,
	)

	return hash.String(), true, nil
}

// Remove deletes the whole workspace.
func (w *Workspace) Remove() error {
	const errCtx = "removing workspace"

	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
