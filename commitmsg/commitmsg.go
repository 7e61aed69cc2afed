// Package commitmsg synthesizes commit messages for
// cherry-pick deliveries.
package commitmsg

import (
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/ghcherry/engine"
)

const defaultTemplate = "Cherry pick between {base} and {target}"

// shortSHALen is the abbreviated SHA width used in
// range summaries.
const shortSHALen = 7

// Default produces the message used when the caller
// does not supply one. No network calls are involved.
func Default(baseSHA, targetSHA string) string {
	return fasttemplate.ExecuteStringStd(
		defaultTemplate, "{", "}",
		map[string]interface{}{
			"base":   baseSHA,
			"target": targetSHA,
		},
	)
}

// Summarize renders one line per commit, newest first,
// in "shortsha subject" form. Use it to build a richer
// message from the commit range being delivered.
func Summarize(commits []engine.Commit) string {
	var sb strings.Builder

	for _, c := range commits {
		sha := c.SHA
		if len(sha) > shortSHALen {
			sha = sha[:shortSHALen]
		}

		subject, _, _ := strings.Cut(c.Message, "\n")

		sb.WriteString(sha)
		sb.WriteByte(' ')
		sb.WriteString(subject)
		sb.WriteByte('\n')
	}

	return sb.String()
}
