// Package gateway is the single public ingress: it verifies webhook
// signatures, fans deliveries out to the worker services, aggregates their
// stats into one dashboard and guards everything except /health and /webhook
// with HTTP basic auth.
package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hubmon/hubmon/internal/config"
	"github.com/hubmon/hubmon/internal/store"
	"github.com/hubmon/hubmon/internal/webhook"
)

//go:embed dashboard.html
var dashboardHTML []byte

// statsTimeout bounds each worker call during dashboard aggregation; a slow
// worker turns into reachable=false instead of a slow dashboard.
const statsTimeout = 2 * time.Second

// Config holds the gateway dependencies and routing rules.
type Config struct {
	Secret   string
	AuthUser string
	// AuthPassword empty disables basic auth (bootstrap mode, surfaced on
	// /health as auth_enabled=false).
	AuthPassword string

	ReviewerURL string
	CopierURL   string
	ScorerURL   string

	Copy    config.CopyConfig
	Scoring config.ScoringConfig

	DB     *store.DB
	Logger *slog.Logger
	Client *http.Client
}

type worker struct {
	name    string
	baseURL string
	// proxied UI path on the gateway, e.g. /pr-tasks
	uiPrefix string
}

// Service is the gateway HTTP service.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	client  *http.Client
	hub     *hub
	workers []worker
}

// New creates the gateway.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		cfg:    cfg,
		logger: logger,
		client: client,
		hub:    newHub(logger),
		workers: []worker{
			{name: "pr_reviewer", baseURL: cfg.ReviewerURL, uiPrefix: "/pr-tasks"},
			{name: "issue_copier", baseURL: cfg.CopierURL, uiPrefix: "/issue-copies"},
			{name: "issue_scorer", baseURL: cfg.ScorerURL, uiPrefix: "/issue-scores"},
		},
	}
}

// Routes returns the gateway handler. Everything except /health and /webhook
// sits behind basic auth.
func (s *Service) Routes() http.Handler {
	private := http.NewServeMux()
	private.HandleFunc("GET /{$}", s.handleIndex)
	private.HandleFunc("GET /api/dashboard", s.handleDashboard)
	private.HandleFunc("GET /api/webhooks", s.handleListWebhooks)
	private.HandleFunc("GET /api/ws", s.handleWS)
	for _, w := range s.workers {
		private.Handle(w.uiPrefix+"/", s.proxyTo(w))
	}
	// The feedback analytics UI is served by the scorer.
	private.Handle("/feedback-analytics/", s.proxyTo(worker{
		name: "issue_scorer", baseURL: s.cfg.ScorerURL, uiPrefix: "/feedback-analytics",
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.Handle("/", s.requireAuth(private))
	return mux
}

func (s *Service) authEnabled() bool {
	return s.cfg.AuthPassword != ""
}

// requireAuth enforces HTTP basic auth when a password is configured.
func (s *Service) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AuthUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AuthPassword)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="hubmon"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"service":      "gateway",
		"auth_enabled": s.authEnabled(),
	})
}

func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(dashboardHTML)
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	if !webhook.VerifySignature(s.cfg.Secret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("webhook signature mismatch", "delivery", r.Header.Get("X-GitHub-Delivery"))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == webhook.EventPing {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "event": "ping"})
		return
	}

	env, err := webhook.ParseEnvelope(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	targets := s.route(event, env.Repository.FullName)
	record := store.WebhookEvent{
		EventType: event,
		Action:    env.Action,
		Repo:      env.Repository.FullName,
		Sender:    env.Sender.Login,
		Number:    env.IssueNumber(),
	}

	if len(targets) == 0 {
		record.Status = "ignored"
		s.recordEvent(record)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": event})
		return
	}

	delivery := r.Header.Get("X-GitHub-Delivery")
	var routed []string
	var failures []string
	overloaded := false
	for _, target := range targets {
		if err := s.forward(r.Context(), target, event, delivery, body); err != nil {
			s.logger.Error("forwarding webhook",
				"worker", target.name, "event", event, "repo", record.Repo, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", target.name, err))
			if errors.Is(err, errWorkerBusy) {
				overloaded = true
			}
			continue
		}
		routed = append(routed, target.name)
	}
	record.RoutedTo = routed

	if len(failures) > 0 {
		// Both 502 and 503 make GitHub redeliver, so a full queue or an
		// unreachable worker loses nothing; 503 tells the caller which it was.
		record.Status = "failed"
		record.ErrorMessage = strings.Join(failures, "; ")
		s.recordEvent(record)
		if overloaded {
			writeError(w, http.StatusServiceUnavailable, "downstream worker at capacity")
			return
		}
		writeError(w, http.StatusBadGateway, "downstream worker unavailable")
		return
	}

	record.Status = "routed"
	s.recordEvent(record)
	writeJSON(w, http.StatusOK, map[string]any{"status": "routed", "event": event, "routed_to": routed})
}

// route decides which workers receive an event.
func (s *Service) route(event, repo string) []worker {
	var targets []worker
	switch event {
	case webhook.EventPullRequest:
		targets = append(targets, s.workers[0])
		if s.scorerWants(repo) {
			targets = append(targets, s.workers[2])
		}
	case webhook.EventIssues, webhook.EventIssueComment:
		if s.copierWants(repo) {
			targets = append(targets, s.workers[1])
		}
		if s.scorerWants(repo) {
			targets = append(targets, s.workers[2])
		}
	}
	return targets
}

func (s *Service) copierWants(repo string) bool {
	return s.cfg.Copy.Enabled && repo == s.cfg.Copy.SourceRepo
}

func (s *Service) scorerWants(repo string) bool {
	if !s.cfg.Scoring.Enabled {
		return false
	}
	for _, pattern := range s.cfg.Scoring.TargetRepos {
		if ok, err := doublestar.Match(pattern, repo); err == nil && ok {
			return true
		}
	}
	return false
}

// errWorkerBusy marks a worker 503 (full queue) so the gateway can answer
// 503 rather than 502.
var errWorkerBusy = errors.New("worker at capacity")

// forward re-dispatches the delivery to one worker, preserving the body and
// the GitHub headers. Enqueue acknowledgements (2xx) count as success; a 503
// (full queue) or network failure is an error so GitHub retries.
func (s *Service) forward(ctx context.Context, target worker, event, delivery string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.baseURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", delivery)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatching: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("worker answered 503: %w", errWorkerBusy)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker answered %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) recordEvent(record store.WebhookEvent) {
	saved, err := s.cfg.DB.RecordWebhookEvent(record)
	if err != nil {
		s.logger.Error("recording webhook event", "error", err)
		return
	}
	s.hub.broadcast(saved)
}

// workerStatus is one worker's slot in the dashboard aggregate.
type workerStatus struct {
	Reachable bool            `json:"reachable"`
	Stats     json.RawMessage `json:"stats,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// handleDashboard fans out to every worker's stats endpoint with a short
// per-worker timeout. One dead worker never turns the dashboard into a 5xx;
// it shows up as reachable=false with the rest intact.
func (s *Service) handleDashboard(w http.ResponseWriter, r *http.Request) {
	statuses := make([]workerStatus, len(s.workers))
	var wg sync.WaitGroup
	for i, target := range s.workers {
		wg.Add(1)
		go func(i int, target worker) {
			defer wg.Done()
			statuses[i] = s.fetchStats(r.Context(), target)
		}(i, target)
	}
	wg.Wait()

	result := map[string]any{"generated_at": time.Now().UTC().Format(time.RFC3339)}
	for i, target := range s.workers {
		result[target.name] = statuses[i]
	}
	if events, err := s.cfg.DB.ListWebhookEvents(20); err == nil {
		result["recent_webhooks"] = events
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) fetchStats(ctx context.Context, target worker) workerStatus {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.baseURL+"/api/stats", nil)
	if err != nil {
		return workerStatus{Error: err.Error()}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return workerStatus{Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode != http.StatusOK {
		return workerStatus{Error: fmt.Sprintf("stats endpoint answered %d", resp.StatusCode)}
	}
	return workerStatus{Reachable: true, Stats: body}
}

func (s *Service) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.cfg.DB.ListWebhookEvents(limit)
	if err != nil {
		s.logger.Error("listing webhook events", "error", err)
		writeError(w, http.StatusInternalServerError, "listing webhook events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": events})
}

// proxyTo reverse-proxies a UI prefix to the owning worker, stripping the
// prefix: /pr-tasks/api/tasks lands on the reviewer as /api/tasks.
func (s *Service) proxyTo(target worker) http.Handler {
	base, err := url.Parse(target.baseURL)
	if err != nil {
		s.logger.Error("invalid worker URL", "worker", target.name, "url", target.baseURL)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusBadGateway, "worker misconfigured")
		})
	}
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(base)
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, target.uiPrefix)
			if pr.Out.URL.Path == "" {
				pr.Out.URL.Path = "/"
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Error("proxying to worker", "worker", target.name, "error", err)
			writeError(w, http.StatusBadGateway, target.name+" unavailable")
		},
	}
	return proxy
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
