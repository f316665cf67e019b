package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func mustNew(t *testing.T, token string, opts ...Option) *Client {
	t.Helper()
	c, err := New(token, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func assertAuth(t *testing.T, r *http.Request, expected string) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != expected {
		t.Errorf("expected Authorization %q, got %q", expected, got)
	}
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := SplitRepo("acme/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "acme" || name != "app" {
		t.Fatalf("unexpected split: %s/%s", owner, name)
	}
	if _, _, err := SplitRepo("noslash"); err == nil {
		t.Fatal("expected error for missing slash")
	}
	if _, _, err := SplitRepo("/app"); err == nil {
		t.Fatal("expected error for empty owner")
	}
}

func TestClient_FetchPR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/acme/app/pulls/42" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		assertAuth(t, r, "Bearer ghp_test")
		json.NewEncoder(w).Encode(map[string]any{
			"number":   42,
			"title":    "Fix login",
			"body":     "details",
			"html_url": "https://github.com/acme/app/pull/42",
			"draft":    true,
			"user":     map[string]any{"login": "alice"},
			"labels":   []map[string]any{{"name": "bug"}},
		})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	pr, err := c.FetchPR(context.Background(), "acme", "app", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.Number != 42 || pr.Author != "alice" || !pr.Draft {
		t.Fatalf("unexpected PR: %+v", pr)
	}
	if len(pr.Labels) != 1 || pr.Labels[0] != "bug" {
		t.Fatalf("unexpected labels: %v", pr.Labels)
	}
}

func TestClient_FetchPRFiles_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/acme/app/pulls/7/files" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `<http://`+r.Host+r.URL.Path+`?page=2>; rel="next"`)
			json.NewEncoder(w).Encode([]map[string]any{
				{"filename": "a.go", "status": "modified", "additions": 3, "deletions": 1, "patch": "@@ -1 +1 @@"},
			})
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"filename": "b.go", "status": "added", "patch": "@@ -0 +1 @@"},
		})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	files, err := c.FetchPRFiles(context.Background(), "acme", "app", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 || files[0].Filename != "a.go" || files[1].Filename != "b.go" {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestClient_PostIssueComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v3/repos/acme/app/issues/9/comments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["body"] != "score: 85" {
			t.Errorf("unexpected body: %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 555, "html_url": "https://github.com/acme/app/issues/9#issuecomment-555"})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	comment, err := c.PostIssueComment(context.Background(), "acme", "app", 9, "score: 85")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comment.ID != 555 {
		t.Fatalf("unexpected comment: %+v", comment)
	}
}

func TestClient_CreateIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/acme/dst/issues" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["title"] != "Crash" {
			t.Errorf("unexpected title: %v", body["title"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"number":   42,
			"title":    "Crash",
			"html_url": "https://github.com/acme/dst/issues/42",
		})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	issue, err := c.CreateIssue(context.Background(), "acme", "dst", "Crash", "body", []string{"bug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue.Number != 42 || issue.HTMLURL != "https://github.com/acme/dst/issues/42" {
		t.Fatalf("unexpected issue: %+v", issue)
	}
}

func TestClient_EnsureBranch_CreatesWhenMissing(t *testing.T) {
	var createdRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/repos/acme/dst/git/ref/heads/assets" && r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"message": "Not Found"})
		case r.URL.Path == "/api/v3/repos/acme/dst":
			json.NewEncoder(w).Encode(map[string]any{"default_branch": "main"})
		case r.URL.Path == "/api/v3/repos/acme/dst/git/ref/heads/main":
			json.NewEncoder(w).Encode(map[string]any{
				"ref": "refs/heads/main", "object": map[string]any{"sha": "abc123"},
			})
		case r.URL.Path == "/api/v3/repos/acme/dst/git/refs" && r.Method == http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			createdRef, _ = body["ref"].(string)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"ref": body["ref"], "object": map[string]any{"sha": "abc123"},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	sha, err := c.EnsureBranch(context.Background(), "acme", "dst", "assets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sha != "abc123" {
		t.Fatalf("unexpected sha: %s", sha)
	}
	if createdRef != "refs/heads/assets" {
		t.Fatalf("unexpected created ref: %s", createdRef)
	}
}

func TestClient_UploadFile_SkipsExisting(t *testing.T) {
	var uploads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"type": "file", "path": "images/x.png", "sha": "existing",
			})
		case http.MethodPut:
			uploads++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	url, err := c.UploadFile(context.Background(), "acme", "dst", "assets", "images/x.png", "msg", []byte("png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uploads != 0 {
		t.Fatal("existing file was re-uploaded")
	}
	if url != "https://github.com/acme/dst/blob/assets/images/x.png?raw=true" {
		t.Fatalf("unexpected raw URL: %s", url)
	}
}

func TestClient_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "Not Found"})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"),
		WithRetryBackoff(time.Millisecond, time.Millisecond))
	_, err := c.FetchPR(context.Background(), "acme", "app", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
}

func TestClient_TransientErrorRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"number": 1, "user": map[string]any{"login": "a"}})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"),
		WithRetryBackoff(time.Millisecond, time.Millisecond))
	pr, err := c.FetchPR(context.Background(), "acme", "app", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.Number != 1 || calls != 3 {
		t.Fatalf("expected success on third call, got %d calls", calls)
	}
}

func TestClient_DownloadBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("imagedata"))
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test")
	data, err := c.DownloadBytes(context.Background(), srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "imagedata" {
		t.Fatalf("unexpected data: %q", data)
	}

	if _, err := c.DownloadBytes(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
}
