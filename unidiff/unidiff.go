// Package unidiff extracts the per-file summary from a
// git unified diff: which paths are touched, which are
// created or deleted, and what mode new files carry.
// Hunk content is left to the patch tool.
package unidiff

import "strings"

// Change summarizes what a diff does to one file.
type Change struct {
	// Path is the post-diff path (the "b/" side).
	Path string
	// OldPath is the pre-diff path. It differs from
	// Path only on renames.
	OldPath string
	// Mode is the git file mode announced by a
	// "new file mode" or "new mode" header line.
	// Empty when the diff does not change the mode.
	Mode string
	// Created is true for files the diff introduces.
	Created bool
	// Deleted is true for files the diff removes.
	Deleted bool
}

const (
	headerPrefix      = "diff --git "
	newFileModePrefix = "new file mode "
	newModePrefix     = "new mode "
	deletedModePrefix = "deleted file mode "
	renameFromPrefix  = "rename from "
	renameToPrefix    = "rename to "
)

// Parse scans a unified diff and returns one Change per
// touched file, in diff order. An empty diff yields no
// changes.
func Parse(diff string) []Change {
	var (
		changes []Change
		current *Change
	)

	flush := func() {
		if current != nil {
			changes = append(changes, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, headerPrefix) {
			flush()

			oldPath, newPath := splitHeader(
				line[len(headerPrefix):],
			)
			current = &Change{
				Path:    newPath,
				OldPath: oldPath,
			}

			continue
		}

		if current == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, newFileModePrefix):
			current.Created = true
			current.Mode = line[len(newFileModePrefix):]
		case strings.HasPrefix(line, newModePrefix):
			current.Mode = line[len(newModePrefix):]
		case strings.HasPrefix(line, deletedModePrefix):
			current.Deleted = true
		case strings.HasPrefix(line, renameFromPrefix):
			current.OldPath = line[len(renameFromPrefix):]
		case strings.HasPrefix(line, renameToPrefix):
			current.Path = line[len(renameToPrefix):]
		}
	}

	flush()

	return changes
}

// splitHeader extracts the a/ and b/ paths from the
// remainder of a "diff --git" line. Paths containing
// " b/" are ambiguous in this format; the first match
// wins, which is what git itself prints for the
// overwhelming majority of trees.
func splitHeader(rest string) (string, string) {
	idx := strings.Index(rest, " b/")
	if idx < 0 {
		return rest, rest
	}

	oldPath := strings.TrimPrefix(rest[:idx], "a/")
	newPath := rest[idx+len(" b/"):]

	return oldPath, newPath
}
