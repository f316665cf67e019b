package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hubmon/hubmon/internal/config"
	"github.com/hubmon/hubmon/internal/store"
)

const testSecret = "s3cret"

// fakeWorker records every request it receives and answers with a canned
// status and body.
type fakeWorker struct {
	mu       sync.Mutex
	requests []*http.Request
	paths    []string
	status   int
	body     string
	server   *httptest.Server
}

func newFakeWorker(t *testing.T, status int, body string) *fakeWorker {
	t.Helper()
	f := &fakeWorker{status: status, body: body}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(r.Context()))
		f.paths = append(f.paths, r.URL.Path)
		status, body := f.status, f.body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeWorker) respond(status int, body string) {
	f.mu.Lock()
	f.status = status
	f.body = body
	f.mu.Unlock()
}

func (f *fakeWorker) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testGateway struct {
	svc      *Service
	reviewer *fakeWorker
	copier   *fakeWorker
	scorer   *fakeWorker
	db       *store.DB
}

func newTestGateway(t *testing.T, mutate func(*Config)) *testGateway {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reviewer := newFakeWorker(t, http.StatusAccepted, `{"status":"accepted"}`)
	copier := newFakeWorker(t, http.StatusAccepted, `{"status":"accepted"}`)
	scorer := newFakeWorker(t, http.StatusAccepted, `{"status":"accepted"}`)

	cfg := Config{
		Secret:      testSecret,
		AuthUser:    "admin",
		ReviewerURL: reviewer.server.URL,
		CopierURL:   copier.server.URL,
		ScorerURL:   scorer.server.URL,
		Copy:        config.CopyConfig{Enabled: true, SourceRepo: "Acme/src"},
		Scoring:     config.ScoringConfig{Enabled: true, TargetRepos: []string{"Acme/*"}},
		DB:          db,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testGateway{svc: New(cfg), reviewer: reviewer, copier: copier, scorer: scorer, db: db}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, g *testGateway, event string, payload map[string]any, signature string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if signature == "" {
		signature = sign(body)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	req.Header.Set("X-Hub-Signature-256", signature)
	w := httptest.NewRecorder()
	g.svc.Routes().ServeHTTP(w, req)
	return w
}

func prPayload(repo string) map[string]any {
	return map[string]any{
		"action":     "opened",
		"number":     5,
		"repository": map[string]any{"full_name": repo},
		"sender":     map[string]any{"login": "alice"},
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	g := newTestGateway(t, nil)
	w := postWebhook(t, g, "pull_request", prPayload("Acme/app"), "sha256=deadbeef")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if g.reviewer.hits() != 0 {
		t.Error("unverified webhook reached a worker")
	}
}

func TestWebhook_Ping(t *testing.T) {
	g := newTestGateway(t, nil)
	w := postWebhook(t, g, "ping", map[string]any{"zen": "keep it simple"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "success" || resp["event"] != "ping" {
		t.Errorf("response = %v", resp)
	}
}

func TestWebhook_RoutesPullRequest(t *testing.T) {
	g := newTestGateway(t, nil)
	w := postWebhook(t, g, "pull_request", prPayload("Acme/app"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// Targeted repo: the reviewer and the scorer both get it.
	if g.reviewer.hits() != 1 || g.scorer.hits() != 1 || g.copier.hits() != 0 {
		t.Errorf("hits reviewer=%d scorer=%d copier=%d",
			g.reviewer.hits(), g.scorer.hits(), g.copier.hits())
	}
	fwd := g.reviewer.requests[0]
	if fwd.Header.Get("X-GitHub-Event") != "pull_request" || fwd.Header.Get("X-GitHub-Delivery") != "delivery-1" {
		t.Errorf("forwarded headers not preserved: %v", fwd.Header)
	}

	events, err := g.db.ListWebhookEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Status != "routed" {
		t.Fatalf("events = %+v", events)
	}
	if len(events[0].RoutedTo) != 2 {
		t.Errorf("routed_to = %v", events[0].RoutedTo)
	}
}

func TestWebhook_RoutesIssuesToCopierAndScorer(t *testing.T) {
	g := newTestGateway(t, nil)
	payload := map[string]any{
		"action":     "opened",
		"issue":      map[string]any{"number": 9},
		"repository": map[string]any{"full_name": "Acme/src"},
		"sender":     map[string]any{"login": "alice"},
	}
	w := postWebhook(t, g, "issues", payload, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if g.copier.hits() != 1 || g.scorer.hits() != 1 || g.reviewer.hits() != 0 {
		t.Errorf("hits reviewer=%d copier=%d scorer=%d",
			g.reviewer.hits(), g.copier.hits(), g.scorer.hits())
	}
}

func TestWebhook_UnmatchedEventIgnored(t *testing.T) {
	g := newTestGateway(t, nil)
	w := postWebhook(t, g, "push", map[string]any{
		"repository": map[string]any{"full_name": "Acme/app"},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ignored" {
		t.Errorf("response = %v", resp)
	}

	events, _ := g.db.ListWebhookEvents(10)
	if len(events) != 1 || events[0].Status != "ignored" {
		t.Errorf("events = %+v", events)
	}
}

func TestWebhook_UntargetedIssuesIgnored(t *testing.T) {
	g := newTestGateway(t, nil)
	payload := map[string]any{
		"action":     "opened",
		"issue":      map[string]any{"number": 9},
		"repository": map[string]any{"full_name": "Other/repo"},
	}
	postWebhook(t, g, "issues", payload, "")
	if g.copier.hits() != 0 || g.scorer.hits() != 0 {
		t.Error("untargeted repo reached a worker")
	}
}

func TestWebhook_DownstreamFailureIs502(t *testing.T) {
	g := newTestGateway(t, nil)
	g.reviewer.server.Close()

	w := postWebhook(t, g, "pull_request", prPayload("Other/app"), "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	events, _ := g.db.ListWebhookEvents(10)
	if len(events) != 1 || events[0].Status != "failed" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].ErrorMessage == "" {
		t.Error("failed event has no error message")
	}
}

// A worker's 503 (full queue) propagates as a gateway 503 so callers can
// tell overload from an unreachable worker; both still make GitHub redeliver.
func TestWebhook_FullWorkerQueueIs503(t *testing.T) {
	g := newTestGateway(t, nil)
	g.reviewer.respond(http.StatusServiceUnavailable, `{"error":"review queue full"}`)

	w := postWebhook(t, g, "pull_request", prPayload("Other/app"), "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}

	events, _ := g.db.ListWebhookEvents(10)
	if len(events) != 1 || events[0].Status != "failed" {
		t.Fatalf("events = %+v", events)
	}
}

func TestHealth_AuthFlag(t *testing.T) {
	g := newTestGateway(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	g.svc.Routes().ServeHTTP(w, req)
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["auth_enabled"] != false {
		t.Errorf("auth_enabled = %v, want false without a password", resp["auth_enabled"])
	}

	g = newTestGateway(t, func(c *Config) { c.AuthPassword = "pw" })
	w = httptest.NewRecorder()
	g.svc.Routes().ServeHTTP(w, req)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["auth_enabled"] != true {
		t.Errorf("auth_enabled = %v, want true", resp["auth_enabled"])
	}
}

func TestBasicAuth(t *testing.T) {
	g := newTestGateway(t, func(c *Config) { c.AuthPassword = "pw" })
	routes := g.svc.Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/webhooks", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no creds: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/webhooks", nil)
	req.SetBasicAuth("admin", "wrong")
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad creds: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/webhooks", nil)
	req.SetBasicAuth("admin", "pw")
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("good creds: status = %d, want 200", w.Code)
	}
}

func TestBasicAuth_DisabledWithoutPassword(t *testing.T) {
	g := newTestGateway(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/webhooks", nil)
	w := httptest.NewRecorder()
	g.svc.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestDashboard_PartialOnUnreachableWorker(t *testing.T) {
	g := newTestGateway(t, nil)
	g.reviewer.respond(http.StatusOK, `{"total": 3}`)
	g.scorer.server.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	w := httptest.NewRecorder()
	g.svc.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even with a dead worker", w.Code)
	}

	var resp struct {
		Reviewer workerStatus `json:"pr_reviewer"`
		Scorer   workerStatus `json:"issue_scorer"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Reviewer.Reachable {
		t.Errorf("reviewer unreachable: %+v", resp.Reviewer)
	}
	if !strings.Contains(string(resp.Reviewer.Stats), `"total": 3`) {
		t.Errorf("reviewer stats = %s", resp.Reviewer.Stats)
	}
	if resp.Scorer.Reachable {
		t.Error("dead scorer reported reachable")
	}
}

func TestProxyStripsUIPrefix(t *testing.T) {
	g := newTestGateway(t, nil)
	g.reviewer.respond(http.StatusOK, `{"tasks": []}`)

	req := httptest.NewRequest(http.MethodGet, "/pr-tasks/api/tasks", nil)
	w := httptest.NewRecorder()
	g.svc.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if g.reviewer.paths[len(g.reviewer.paths)-1] != "/api/tasks" {
		t.Errorf("worker saw path %q, want /api/tasks", g.reviewer.paths[len(g.reviewer.paths)-1])
	}
}

func TestIndexServesDashboard(t *testing.T) {
	g := newTestGateway(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	g.svc.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hubmon") {
		t.Error("dashboard HTML not served")
	}
}
