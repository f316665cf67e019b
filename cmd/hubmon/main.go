// Command hubmon runs the GitHub automation suite: a public webhook gateway
// plus the PR-review, issue-copier and issue-scorer workers, all in one
// process with a shared SQLite store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hubmon/hubmon/internal/claude"
	"github.com/hubmon/hubmon/internal/config"
	"github.com/hubmon/hubmon/internal/copier"
	"github.com/hubmon/hubmon/internal/gateway"
	"github.com/hubmon/hubmon/internal/github"
	"github.com/hubmon/hubmon/internal/reviewer"
	"github.com/hubmon/hubmon/internal/scorer"
	"github.com/hubmon/hubmon/internal/store"
)

var version = "dev"

const defaultConfigPath = "hubmon.yaml"

// retentionDays is how long terminal review tasks and webhook history are
// kept before the janitor prunes them.
const retentionDays = 30

func usage() {
	fmt.Fprintf(os.Stderr, `hubmon — GitHub webhook automation suite

Usage:
  hubmon serve [flags]   Start the gateway and worker services

Flags:
  --config   Path to the YAML config file (default: %s)

Secrets and addresses come from the environment: GITHUB_TOKEN,
WEBHOOK_SECRET, WEB_PASSWORD, GATEWAY_ADDR, DB_PATH, CLAUDE_BIN, ...
`, defaultConfigPath)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	subcmd := os.Args[1]
	rest := os.Args[2:]

	var err error
	switch subcmd {
	case "serve":
		err = runServe(rest)
	case "--version", "version":
		fmt.Println("hubmon " + version)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "hubmon %s: %v\n", subcmd, err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	configPath := defaultConfigPath
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		}
	}

	// --- 1. Signal handling for graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Configuration: YAML for behaviour, environment for wiring ---
	env, err := config.LoadEnv(ctx)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	// --- 3. Open the store ---
	db, err := store.Open(env.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// --- 4. GitHub client: App installation auth when configured ---
	var ghOpts []github.Option
	if env.GitHubAPIURL != "" {
		ghOpts = append(ghOpts, github.WithBaseURL(env.GitHubAPIURL))
	}
	if env.AppAuthConfigured() {
		ghOpts = append(ghOpts, github.WithAppAuth(github.AppCredentials{
			ClientID:       env.GitHubAppClientID,
			InstallationID: env.GitHubAppInstallationID,
			PrivateKeyPath: env.GitHubAppPrivateKeyPath,
		}))
		logger.Info("authenticating as GitHub App installation",
			"installation", env.GitHubAppInstallationID)
	}
	gh, err := github.New(env.GitHubToken, ghOpts...)
	if err != nil {
		return fmt.Errorf("creating GitHub client: %w", err)
	}

	invoker := &claude.Invoker{Bin: env.ClaudeBin}

	// --- 5. Worker services ---
	reviewSvc := reviewer.New(reviewer.Config{
		Review:  cfg.Review,
		DB:      db,
		GitHub:  gh,
		Invoker: invoker,
		Logger:  logger.With("service", "pr-reviewer"),
	})
	copySvc := copier.New(copier.Config{
		Copy:   cfg.IssueCopy,
		DB:     db,
		GitHub: gh,
		Logger: logger.With("service", "issue-copier"),
	})
	scoreSvc := scorer.New(scorer.Config{
		Scoring: cfg.IssueScoring,
		DB:      db,
		GitHub:  gh,
		Invoker: invoker,
		Logger:  logger.With("service", "issue-scorer"),
	})

	reviewSvc.Start(ctx)
	copySvc.Start(ctx)
	scoreSvc.Start(ctx)

	// --- 6. Gateway in front of the workers ---
	gw := gateway.New(gateway.Config{
		Secret:       env.WebhookSecret,
		AuthUser:     env.WebUsername,
		AuthPassword: env.WebPassword,
		ReviewerURL:  env.ReviewerURL,
		CopierURL:    env.CopierURL,
		ScorerURL:    env.ScorerURL,
		Copy:         cfg.IssueCopy,
		Scoring:      cfg.IssueScoring,
		DB:           db,
		Logger:       logger.With("service", "gateway"),
	})

	servers := []*http.Server{
		{Addr: env.GatewayAddr, Handler: gw.Routes()},
		{Addr: env.ReviewerAddr, Handler: reviewSvc.Routes()},
		{Addr: env.CopierAddr, Handler: copySvc.Routes()},
		{Addr: env.ScorerAddr, Handler: scoreSvc.Routes()},
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server stopped", "addr", srv.Addr, "error", err)
				stop()
			}
		}(srv)
	}

	// --- 7. Daily janitor for old tasks and webhook history ---
	go runJanitor(ctx, db, logger)

	if env.WebPassword == "" {
		logger.Warn("WEB_PASSWORD not set; dashboard auth is DISABLED")
	}
	fmt.Fprintf(os.Stderr, "hubmon gateway listening on %s\n", env.GatewayAddr)

	// --- 8. Wait for shutdown ---
	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}
	reviewSvc.Wait()
	copySvc.Wait()
	scoreSvc.Wait()

	return nil
}

// runJanitor prunes terminal review tasks and webhook history once a day.
func runJanitor(ctx context.Context, db *store.DB, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			if n, err := db.DeleteOldReviewTasks(cutoff); err != nil {
				logger.Warn("pruning review tasks", "error", err)
			} else if n > 0 {
				logger.Info("pruned review tasks", "count", n)
			}
			if n, err := db.DeleteOldWebhookEvents(cutoff); err != nil {
				logger.Warn("pruning webhook events", "error", err)
			} else if n > 0 {
				logger.Info("pruned webhook events", "count", n)
			}
		}
	}
}

// newLogger builds the slog logger per the logging config. The returned
// close function releases the log file, if any.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	out := os.Stderr
	closeLog := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeLog = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeLog, nil
}
