package github

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config holds the settings needed to create a GitHub
// engine. Either Token or the Username/Password pair
// must be set.
type Config struct {
	// Username is the GitHub user for basic
	// authentication.
	Username string `yaml:"username"`
	// Password is the basic-auth password. A personal
	// access token also works here.
	Password string `yaml:"password"`
	// Token is a personal access token or GitHub App
	// token. Takes precedence over basic auth.
	Token string `yaml:"token"`
	// Owner is the GitHub user or organisation that
	// owns the repository.
	Owner string `yaml:"organization"`
	// Repo is the repository name (without owner).
	Repo string `yaml:"repository"`
	// BaseURL is the full API base URL for a GitHub
	// Enterprise deployment (e.g.
	// "https://git.corp.example.com/api/v3"). Leave
	// empty for github.com.
	BaseURL string `yaml:"base_url"`
}

// validate checks that the configuration names a
// repository and carries usable credentials.
func (c Config) validate() error {
	if c.Owner == "" {
		return errors.New("organization must be set")
	}

	if c.Repo == "" {
		return errors.New("repository must be set")
	}

	if c.Token == "" &&
		(c.Username == "" || c.Password == "") {
		return errors.New(
			"token or username/password must be set",
		)
	}

	return nil
}

// LoadConfig reads a YAML configuration file into a
// Config. Validation happens in NewEngine, not here.
func LoadConfig(path string) (Config, error) {
	const errCtx = "loading config"

	var cfg Config

	content, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", errCtx, err)
	}

	return cfg, nil
}
