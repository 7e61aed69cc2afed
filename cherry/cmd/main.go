// Command ghcherry delivers the diff between two refs
// onto a target branch of a GitHub-hosted repository
// without cloning it: it fetches the diff, applies it
// to a scratch snapshot with git apply, and recreates
// the patched tree remotely as new blob, tree, and
// commit objects.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/ghcherry/cherry"
	"github.com/byte4ever/ghcherry/commitmsg"
	"github.com/byte4ever/ghcherry/engine"
	ghengine "github.com/byte4ever/ghcherry/engine/github"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // CLI flag setup is inherently long
func run() error {
	const errCtx = "running ghcherry"

	// Credential flags. Each overrides the value from
	// the config file.
	configPath := flag.String(
		"config", "",
		"YAML configuration file",
	)
	username := flag.String(
		"username", "",
		"GitHub username for basic auth",
	)
	password := flag.String(
		"password", "",
		"GitHub password for basic auth",
	)
	token := flag.String(
		"token", "",
		"GitHub access token",
	)
	org := flag.String(
		"organization", "",
		"Repository owner (user or organisation)",
	)
	repo := flag.String(
		"repository", "",
		"Repository name",
	)
	baseURL := flag.String(
		"base_url", "",
		"Enterprise API base URL (empty for github.com)",
	)

	// Delivery flags.
	base := flag.String(
		"base", "",
		"Base ref (SHA, branch, or tag)",
	)
	target := flag.String(
		"target", "",
		"Target ref (SHA, branch, or tag)",
	)
	branch := flag.String(
		"branch", "",
		"Branch to deliver the diff onto",
	)
	message := flag.String(
		"message", "",
		"Commit message (generated when empty)",
	)
	updateRef := flag.Bool(
		"update_ref", false,
		"Move the branch ref to the new commit",
	)
	summarize := flag.Bool(
		"summarize", false,
		"Build the commit message from the "+
			"base..target commit range",
	)
	tmpDir := flag.String(
		"tmp_dir", os.TempDir(),
		"Directory for scratch workspaces",
	)

	flag.Parse()

	if *base == "" || *target == "" || *branch == "" {
		return fmt.Errorf(
			"%s: -base, -target, and -branch "+
				"must be set", errCtx,
		)
	}

	cfg, err := buildConfig(
		*configPath,
		*username, *password, *token,
		*org, *repo, *baseURL,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	eng, err := ghengine.NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ctl, err := cherry.New(cherry.Config{
		Engine:       eng,
		TmpDir:       *tmpDir,
		UpdateBranch: *updateRef,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ctx := context.Background()

	if err := ctl.Patch(
		ctx, *base, *target, *branch,
	); err != nil {
		var conflict *cherry.MergeConflictError
		if errors.As(err, &conflict) {
			slog.Error(
				"patch rejected",
				"workspace", ctl.WorkspaceDir(),
			)
			fmt.Fprintln(os.Stderr, conflict.Output)
		}

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	msg := *message
	if msg == "" && *summarize {
		msg, err = summary(ctx, ctl)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	result, err := ctl.Commit(ctx, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	fmt.Println(string(out))

	return nil
}

// buildConfig loads the optional config file and lets
// non-empty flags override it.
func buildConfig(
	path string,
	username string,
	password string,
	token string,
	org string,
	repo string,
	baseURL string,
) (ghengine.Config, error) {
	var (
		cfg ghengine.Config
		err error
	)

	if path != "" {
		cfg, err = ghengine.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
	}

	if username != "" {
		cfg.Username = username
	}

	if password != "" {
		cfg.Password = password
	}

	if token != "" {
		cfg.Token = token
	}

	if org != "" {
		cfg.Owner = org
	}

	if repo != "" {
		cfg.Repo = repo
	}

	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return cfg, nil
}

// summary renders one line per commit in the delivered
// range, using the SHAs recorded at patch time so a tip
// moved in between cannot skew the range.
func summary(
	ctx context.Context,
	ctl *cherry.Controller,
) (string, error) {
	var commits []engine.Commit

	for c, err := range ctl.Engine().Commits(
		ctx, ctl.BaseSHA(), ctl.TargetSHA(),
	) {
		if err != nil {
			return "", err
		}

		commits = append(commits, c)
	}

	return commitmsg.Summarize(commits), nil
}
