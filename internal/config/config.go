// Package config loads the hubmon configuration: a YAML file for behaviour
// (what to review, copy and score) and environment variables for secrets and
// wiring (tokens, addresses, paths).
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the parsed YAML configuration. Loaded once at startup and never
// mutated; services re-read only on restart.
type Config struct {
	Review       ReviewConfig  `yaml:"review"`
	IssueCopy    CopyConfig    `yaml:"issue_copy"`
	IssueScoring ScoringConfig `yaml:"issue_scoring"`
	Logging      LoggingConfig `yaml:"logging"`
}

// ReviewConfig controls the PR-review worker.
type ReviewConfig struct {
	Triggers       []string `yaml:"triggers"`
	SkipDraft      bool     `yaml:"skip_draft"`
	AutoLabel      bool     `yaml:"auto_label"`
	FocusAreas     []string `yaml:"focus_areas"`
	Language       string   `yaml:"language"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	// MaxDiffChars caps the diff embedded in the review prompt.
	MaxDiffChars int `yaml:"max_diff_chars"`
}

// Timeout returns the CLI timeout for reviews.
func (r ReviewConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// CopyConfig controls the issue-copier worker.
type CopyConfig struct {
	Enabled            bool              `yaml:"enabled"`
	SourceRepo         string            `yaml:"source_repo"`
	Triggers           []string          `yaml:"triggers"`
	LabelToRepo        map[string]string `yaml:"label_to_repo"`
	DefaultTargetRepo  string            `yaml:"default_target_repo"`
	AddSourceReference bool              `yaml:"add_source_reference"`
	CopyLabels         bool              `yaml:"copy_labels"`
	ReuploadImages     bool              `yaml:"reupload_images"`
	AddCopyComment     bool              `yaml:"add_copy_comment"`
}

// ScoringConfig controls the issue-scorer worker. TargetRepos entries may be
// doublestar glob patterns (e.g. "Acme/*").
type ScoringConfig struct {
	Enabled               bool     `yaml:"enabled"`
	TargetRepos           []string `yaml:"target_repos"`
	Triggers              []string `yaml:"triggers"`
	CommentTriggers       []string `yaml:"comment_triggers"`
	AutoComment           bool     `yaml:"auto_comment"`
	Language              string   `yaml:"language"`
	TimeoutSeconds        int      `yaml:"timeout_seconds"`
	FeedbackWindowDays    int      `yaml:"feedback_window_days"`
	FeedbackMinOccurrence int      `yaml:"feedback_min_occurrences"`
}

// Timeout returns the CLI timeout for scoring.
func (s ScoringConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// LoggingConfig controls slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Env holds environment-provided secrets and wiring.
type Env struct {
	GitHubToken   string `env:"GITHUB_TOKEN"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	WebUsername string `env:"WEB_USERNAME,default=admin"`
	WebPassword string `env:"WEB_PASSWORD"`

	GatewayAddr  string `env:"GATEWAY_ADDR,default=:8080"`
	ReviewerAddr string `env:"PR_REVIEWER_ADDR,default=127.0.0.1:8081"`
	CopierAddr   string `env:"ISSUE_COPIER_ADDR,default=127.0.0.1:8082"`
	ScorerAddr   string `env:"ISSUE_SCORER_ADDR,default=127.0.0.1:8083"`

	ReviewerURL string `env:"PR_REVIEWER_URL,default=http://127.0.0.1:8081"`
	CopierURL   string `env:"ISSUE_COPIER_URL,default=http://127.0.0.1:8082"`
	ScorerURL   string `env:"ISSUE_SCORER_URL,default=http://127.0.0.1:8083"`

	ClaudeBin string `env:"CLAUDE_BIN,default=claude"`
	DBPath    string `env:"DB_PATH,default=/var/lib/hubmon/hubmon.db"`

	// GitHub App credentials. When all three are set the GitHub client
	// authenticates as an App installation instead of with the token.
	GitHubAppClientID       string `env:"GITHUB_APP_CLIENT_ID"`
	GitHubAppInstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID"`
	GitHubAppPrivateKeyPath string `env:"GITHUB_APP_PRIVATE_KEY_PATH"`

	// GitHubAPIURL overrides the GitHub API endpoint (for mock servers in tests).
	GitHubAPIURL string `env:"GITHUB_API_URL"`
}

// AppAuthConfigured reports whether GitHub App credentials are complete.
func (e Env) AppAuthConfigured() bool {
	return e.GitHubAppClientID != "" && e.GitHubAppInstallationID != 0 && e.GitHubAppPrivateKeyPath != ""
}

// Load reads and parses the config file at the given path and applies
// defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadEnv parses environment variables into an Env.
func LoadEnv(ctx context.Context) (*Env, error) {
	var env Env
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &env, nil
}

func (c *Config) applyDefaults() {
	if len(c.Review.Triggers) == 0 {
		c.Review.Triggers = []string{"opened", "synchronize", "reopened"}
	}
	if c.Review.TimeoutSeconds <= 0 {
		c.Review.TimeoutSeconds = 300
	}
	if c.Review.MaxDiffChars <= 0 {
		c.Review.MaxDiffChars = 60000
	}
	if c.Review.Language == "" {
		c.Review.Language = "English"
	}

	if len(c.IssueCopy.Triggers) == 0 {
		c.IssueCopy.Triggers = []string{"opened", "labeled"}
	}

	if len(c.IssueScoring.Triggers) == 0 {
		c.IssueScoring.Triggers = []string{"opened"}
	}
	if len(c.IssueScoring.CommentTriggers) == 0 {
		c.IssueScoring.CommentTriggers = []string{"created"}
	}
	if c.IssueScoring.TimeoutSeconds <= 0 {
		c.IssueScoring.TimeoutSeconds = 120
	}
	if c.IssueScoring.Language == "" {
		c.IssueScoring.Language = "English"
	}
	if c.IssueScoring.FeedbackWindowDays <= 0 {
		c.IssueScoring.FeedbackWindowDays = 30
	}
	if c.IssueScoring.FeedbackMinOccurrence <= 0 {
		c.IssueScoring.FeedbackMinOccurrence = 2
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
