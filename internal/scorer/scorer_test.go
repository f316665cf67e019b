package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hubmon/hubmon/internal/claude"
	"github.com/hubmon/hubmon/internal/config"
	"github.com/hubmon/hubmon/internal/github"
	"github.com/hubmon/hubmon/internal/prompt"
	"github.com/hubmon/hubmon/internal/store"
)

type fakeGitHub struct {
	mu       sync.Mutex
	comments []string
	postErr  error
}

func (f *fakeGitHub) PostIssueComment(ctx context.Context, owner, repo string, n int, body string) (github.Comment, error) {
	if f.postErr != nil {
		return github.Comment{}, f.postErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return github.Comment{ID: int64(len(f.comments))}, nil
}

// fakeInvoker replays canned outputs in order; the last one repeats.
type fakeInvoker struct {
	mu      sync.Mutex
	outs    []string
	err     error
	prompts []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, opts claude.InvokeOpts) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, opts.Prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.outs) == 0 {
		return "", nil
	}
	out := f.outs[0]
	if len(f.outs) > 1 {
		f.outs = f.outs[1:]
	}
	return out, nil
}

const scoreJSON = `{
	"format": {"score": 85, "feedback": "well structured"},
	"content": {"score": 78, "feedback": "missing reproduction steps"},
	"clarity": {"score": 90, "feedback": "easy to follow"},
	"actionability": {"score": 70, "feedback": "add concrete steps"},
	"overall_score": 80,
	"suggestions": ["add reproduction steps", "mention the app version"]
}`

func testConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Enabled:               true,
		TargetRepos:           []string{"Acme/*", "exact/repo"},
		Triggers:              []string{"opened"},
		CommentTriggers:       []string{"created"},
		AutoComment:           true,
		Language:              "English",
		TimeoutSeconds:        5,
		FeedbackWindowDays:    30,
		FeedbackMinOccurrence: 2,
	}
}

func newTestService(t *testing.T, gh GitHub, inv Invoker) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(Config{Scoring: testConfig(), DB: db, GitHub: gh, Invoker: inv})
}

func issuesEventBody(action, repo string, number int, title, body, author string) map[string]any {
	return map[string]any{
		"action": action,
		"issue": map[string]any{
			"number":   number,
			"title":    title,
			"body":     body,
			"html_url": "https://github.com/" + repo + "/issues/1",
			"user":     map[string]any{"login": author},
			"labels":   []map[string]any{{"name": "bug"}},
		},
		"repository": map[string]any{"full_name": repo},
	}
}

func commentEventBody(repo string, number int, commentID int64, body, author, userType string) map[string]any {
	return map[string]any{
		"action": "created",
		"issue": map[string]any{
			"number":   number,
			"title":    "Some issue",
			"html_url": "https://github.com/" + repo + "/issues/1",
			"user":     map[string]any{"login": "someone"},
		},
		"comment": map[string]any{
			"id":       commentID,
			"body":     body,
			"html_url": "https://github.com/" + repo + "/issues/1#issuecomment-1",
			"user":     map[string]any{"login": author, "type": userType},
		},
		"repository": map[string]any{"full_name": repo},
	}
}

func postEvent(t *testing.T, s *Service, event string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestWebhook_QueuesScore(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})

	w := postEvent(t, s, "issues", issuesEventBody("opened", "Acme/app", 7, "[Bug] crash on save", "it crashes", "alice"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	id, _ := decodeResponse(t, w)["score_id"].(string)
	if id == "" {
		t.Fatal("response missing score_id")
	}

	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatalf("GetScoreRecord: %v", err)
	}
	if rec.Status != store.TaskQueued {
		t.Errorf("status = %q, want queued", rec.Status)
	}
	if rec.ContentType != prompt.TypeBug {
		t.Errorf("content type = %q, want bug", rec.ContentType)
	}
	if rec.Author != "alice" {
		t.Errorf("author = %q", rec.Author)
	}
}

func TestWebhook_DuplicateActiveScore(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})
	payload := issuesEventBody("opened", "Acme/app", 7, "[Bug] crash", "boom", "alice")

	postEvent(t, s, "issues", payload)
	w := postEvent(t, s, "issues", payload)
	if w.Code != http.StatusAccepted {
		t.Fatalf("replay status = %d", w.Code)
	}

	records, err := s.db.ListScoreRecords(store.ScoreFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after replay, want 1", len(records))
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// A replayed webhook for content that already completed must not insert a
// second record or post a second score comment.
func TestWebhook_ReplayAfterCompletion(t *testing.T) {
	gh := &fakeGitHub{}
	inv := &fakeInvoker{outs: []string{scoreJSON}}
	s := newTestService(t, gh, inv)

	_, j := queueScore(t, s, "boom")
	s.process(context.Background(), j)

	w := postEvent(t, s, "issues", issuesEventBody("opened", "Acme/app", 7, "[Bug] crash", "boom", "alice"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("replay status = %d", w.Code)
	}
	if reason := decodeResponse(t, w)["reason"]; reason != "already scored" {
		t.Errorf("reason = %v, want already scored", reason)
	}

	records, err := s.db.ListScoreRecords(store.ScoreFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records after replay, want 1", len(records))
	}
	if len(gh.comments) != 1 {
		t.Fatalf("got %d score comments after replay, want 1", len(gh.comments))
	}
}

// A redelivered webhook for a failed score resets it to queued so the scoring
// can run again.
func TestWebhook_FailedScoreRetriesOnRedelivery(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("claude: exit status 3")}
	s := newTestService(t, &fakeGitHub{}, inv)

	id, j := queueScore(t, s, "it crashes")
	s.process(context.Background(), j)
	if rec, _ := s.db.GetScoreRecord(id); rec.Status != store.TaskFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}

	w := postEvent(t, s, "issues", issuesEventBody("opened", "Acme/app", 7, "[Bug] crash", "it crashes", "alice"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("redelivery status = %d", w.Code)
	}
	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.TaskQueued || rec.ErrorMessage != "" {
		t.Fatalf("record not reset: %q (%q)", rec.Status, rec.ErrorMessage)
	}
	if records, _ := s.db.ListScoreRecords(store.ScoreFilter{}); len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

// A webhook rejected with 503 leaves its record queued; the redelivery must
// keep answering 503 while the queue is full and re-arm the record once
// there is room, instead of acknowledging it with no worker ever scoring it.
func TestWebhook_FullQueueRecoversOnRedelivery(t *testing.T) {
	gh := &fakeGitHub{}
	inv := &fakeInvoker{outs: []string{scoreJSON}}
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(Config{Scoring: testConfig(), DB: db, GitHub: gh, Invoker: inv, Workers: 1, Queue: 1})

	if w := postEvent(t, s, "issues", issuesEventBody("opened", "Acme/app", 7, "a", "b", "alice")); w.Code != http.StatusAccepted {
		t.Fatalf("first issue: status = %d", w.Code)
	}
	second := issuesEventBody("opened", "Acme/app", 8, "c", "d", "alice")
	if w := postEvent(t, s, "issues", second); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second issue on full queue: status = %d", w.Code)
	}

	rec, err := s.db.FindScoreByContent("Acme/app", 8, 0)
	if err != nil || rec.Status != store.TaskQueued {
		t.Fatalf("rejected score should stay queued: %+v, %v", rec, err)
	}
	if w := postEvent(t, s, "issues", second); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("redelivery on full queue: status = %d", w.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	waitFor(t, "first score to finish", func() bool {
		rec, err := s.db.FindScoreByContent("Acme/app", 7, 0)
		return err == nil && rec.Status == store.TaskCompleted
	})

	if w := postEvent(t, s, "issues", second); w.Code != http.StatusAccepted {
		t.Fatalf("redelivery after drain: status = %d", w.Code)
	}
	waitFor(t, "second score to finish", func() bool {
		rec, err := s.db.FindScoreByContent("Acme/app", 8, 0)
		return err == nil && rec.Status == store.TaskCompleted
	})
}

func TestWebhook_Gates(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload map[string]any
		reason  string
	}{
		{
			name:    "repository not targeted",
			event:   "issues",
			payload: issuesEventBody("opened", "Other/app", 1, "t", "b", "alice"),
			reason:  "repository not targeted",
		},
		{
			name:    "action not in triggers",
			event:   "issues",
			payload: issuesEventBody("closed", "Acme/app", 1, "t", "b", "alice"),
			reason:  "action not in triggers",
		},
		{
			name:    "bot comment",
			event:   "issue_comment",
			payload: commentEventBody("Acme/app", 1, 11, "beep", "hubmon[bot]", "Bot"),
			reason:  "bot comment",
		},
		{
			name:    "own score comment",
			event:   "issue_comment",
			payload: commentEventBody("Acme/app", 1, 12, scoreMarker+"\n@alice", "someone", "User"),
			reason:  "bot comment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})
			w := postEvent(t, s, tt.event, tt.payload)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			resp := decodeResponse(t, w)
			if resp["status"] != "ignored" || resp["reason"] != tt.reason {
				t.Errorf("response = %v, want ignored/%s", resp, tt.reason)
			}
		})
	}
}

func TestWebhook_PRCommentSkipped(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})
	payload := commentEventBody("Acme/app", 1, 13, "looks good", "alice", "User")
	payload["issue"].(map[string]any)["pull_request"] = map[string]any{}

	w := postEvent(t, s, "issue_comment", payload)
	resp := decodeResponse(t, w)
	if resp["status"] != "ignored" {
		t.Errorf("response = %v, want ignored", resp)
	}
}

func TestWebhook_CommentScoredAsComment(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})

	w := postEvent(t, s, "issue_comment", commentEventBody("Acme/app", 1, 14, "here is more detail", "bob", "User"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	id, _ := decodeResponse(t, w)["score_id"].(string)

	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ContentType != prompt.TypeComment {
		t.Errorf("content type = %q, want comment", rec.ContentType)
	}
	if rec.CommentID != 14 {
		t.Errorf("comment id = %d, want 14", rec.CommentID)
	}
}

func TestWebhook_TitleEditRefreshesRecords(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})
	w := postEvent(t, s, "issues", issuesEventBody("opened", "Acme/app", 7, "old title", "b", "alice"))
	id, _ := decodeResponse(t, w)["score_id"].(string)

	w = postEvent(t, s, "issues", issuesEventBody("edited", "Acme/app", 7, "new title", "b", "alice"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "new title" {
		t.Errorf("title = %q, want refreshed", rec.Title)
	}
}

func TestRepoTargeted(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})
	tests := []struct {
		repo string
		want bool
	}{
		{"Acme/app", true},
		{"Acme/anything", true},
		{"exact/repo", true},
		{"Other/app", false},
		{"exact/other", false},
	}
	for _, tt := range tests {
		if got := s.repoTargeted(tt.repo); got != tt.want {
			t.Errorf("repoTargeted(%q) = %v, want %v", tt.repo, got, tt.want)
		}
	}
}

func queueScore(t *testing.T, s *Service, body string) (string, job) {
	t.Helper()
	w := postEvent(t, s, "issues", issuesEventBody("opened", "Acme/app", 7, "[Bug] crash", body, "alice"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("webhook status = %d, body %s", w.Code, w.Body.String())
	}
	id, _ := decodeResponse(t, w)["score_id"].(string)
	return id, job{kind: jobScore, recordID: id, body: body, labels: []string{"bug"}}
}

func TestScore_HappyPath(t *testing.T) {
	gh := &fakeGitHub{}
	inv := &fakeInvoker{outs: []string{"Here is the score:\n```json\n" + scoreJSON + "\n```"}}
	s := newTestService(t, gh, inv)

	id, j := queueScore(t, s, "it crashes")
	s.process(context.Background(), j)

	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.TaskCompleted {
		t.Fatalf("status = %q (%s), want completed", rec.Status, rec.ErrorMessage)
	}
	if rec.Result.OverallScore != 80 {
		t.Errorf("overall = %d, want 80", rec.Result.OverallScore)
	}
	if len(rec.Result.Suggestions) != 2 {
		t.Errorf("suggestions = %v", rec.Result.Suggestions)
	}

	if len(gh.comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(gh.comments))
	}
	comment := gh.comments[0]
	for _, want := range []string{
		scoreMarker,
		"@alice",
		"| Format | **85/100** | well structured |",
		"### Overall: **80/100**",
		"- add reproduction steps",
	} {
		if !strings.Contains(comment, want) {
			t.Errorf("comment missing %q:\n%s", want, comment)
		}
	}
}

func TestScore_RepromptOnBadJSON(t *testing.T) {
	gh := &fakeGitHub{}
	inv := &fakeInvoker{outs: []string{"sorry, I cannot produce that", scoreJSON}}
	s := newTestService(t, gh, inv)

	id, j := queueScore(t, s, "it crashes")
	s.process(context.Background(), j)

	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.TaskCompleted {
		t.Fatalf("status = %q (%s), want completed after reprompt", rec.Status, rec.ErrorMessage)
	}
	if len(inv.prompts) != 2 {
		t.Fatalf("got %d CLI calls, want 2", len(inv.prompts))
	}
	if !strings.Contains(inv.prompts[1], "sorry, I cannot produce that") {
		t.Errorf("reprompt does not quote the previous output:\n%s", inv.prompts[1])
	}
}

func TestScore_CLIErrorFails(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("claude: exit status 3")}
	s := newTestService(t, &fakeGitHub{}, inv)

	id, j := queueScore(t, s, "it crashes")
	s.process(context.Background(), j)

	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.TaskFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "AI scoring") {
		t.Errorf("error message = %q", rec.ErrorMessage)
	}
}

func TestScore_FeedbackCalibrationInPrompt(t *testing.T) {
	inv := &fakeInvoker{outs: []string{scoreJSON}}
	s := newTestService(t, &fakeGitHub{}, inv)

	for _, fb := range []string{"too harsh on format +10", "format too strict +8"} {
		if err := s.recordAnalysis(RuleBasedAnalysis(fb, 70), fb); err != nil {
			t.Fatal(err)
		}
	}

	_, j := queueScore(t, s, "it crashes")
	s.process(context.Background(), j)

	if len(inv.prompts) != 1 {
		t.Fatalf("got %d CLI calls, want 1", len(inv.prompts))
	}
	if !strings.Contains(inv.prompts[0], "Score calibration from user feedback") {
		t.Errorf("prompt missing calibration block:\n%s", inv.prompts[0])
	}
}

func TestParseScoreResult_SuggestionsString(t *testing.T) {
	out := `{"format":{"score":80,"feedback":"ok"},"content":{"score":80,"feedback":"ok"},
		"clarity":{"score":80,"feedback":"ok"},"actionability":{"score":80,"feedback":"ok"},
		"overall_score":80,"suggestions":"just one suggestion"}`
	result, err := parseScoreResult(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Suggestions) != 1 || result.Suggestions[0] != "just one suggestion" {
		t.Errorf("suggestions = %v", result.Suggestions)
	}
}

func TestValidateResult(t *testing.T) {
	r := store.ScoreResult{
		Format:        store.DimensionScore{Score: 120},
		Content:       store.DimensionScore{Score: -5},
		Clarity:       store.DimensionScore{Score: 80},
		Actionability: store.DimensionScore{Score: 60},
		OverallScore:  75,
	}
	got := validateResult(r)
	if got.Format.Score != 100 || got.Content.Score != 0 {
		t.Errorf("clamping failed: format=%d content=%d", got.Format.Score, got.Content.Score)
	}
	// 75 is within [0-10, 100+10] of the clamped dimensions, so it stands.
	if got.OverallScore != 75 {
		t.Errorf("overall = %d, want 75", got.OverallScore)
	}

	// An overall far outside the dimension range is replaced by the mean.
	r = store.ScoreResult{
		Format:        store.DimensionScore{Score: 80},
		Content:       store.DimensionScore{Score: 80},
		Clarity:       store.DimensionScore{Score: 80},
		Actionability: store.DimensionScore{Score: 80},
		OverallScore:  10,
	}
	if got := validateResult(r); got.OverallScore != 80 {
		t.Errorf("overall = %d, want mean 80", got.OverallScore)
	}
}

func completeScore(t *testing.T, s *Service, id string) {
	t.Helper()
	var result store.ScoreResult
	if err := json.Unmarshal([]byte(scoreJSON), &result); err != nil {
		t.Fatal(err)
	}
	if err := s.db.MarkScoreProcessing(id); err != nil {
		t.Fatal(err)
	}
	if err := s.db.CompleteScore(id, result); err != nil {
		t.Fatal(err)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	// The invoker errors so the analyzer takes the rule-based path.
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{err: errors.New("unavailable")})
	id, _ := queueScore(t, s, "it crashes")
	completeScore(t, s, id)

	body := `{"feedback": "too harsh on format, should be +10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/scores/"+id+"/feedback", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if entries := rec.FeedbackEntries(); len(entries) != 1 || !strings.Contains(entries[0], "too harsh") {
		t.Errorf("feedback entries = %v", entries)
	}

	// Drive the queued analysis by hand and check the pattern landed.
	s.process(context.Background(), job{kind: jobAnalyzeFeedback, recordID: id, feedback: "too harsh on format, should be +10"})
	patterns, err := s.db.ListFeedbackPatterns(rec.CreatedAt.AddDate(0, 0, -1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 || patterns[0].PatternID != "too_harsh:format" {
		t.Fatalf("patterns = %+v", patterns)
	}
	if patterns[0].AvgScoreDeviation != 10 {
		t.Errorf("avg deviation = %v, want 10", patterns[0].AvgScoreDeviation)
	}
}

func TestFeedbackEndpoint_Validation(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})

	req := httptest.NewRequest(http.MethodPost, "/api/scores/nope/feedback", strings.NewReader(`{"feedback":"x"}`))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown score status = %d, want 404", w.Code)
	}

	id, _ := queueScore(t, s, "b")
	req = httptest.NewRequest(http.MethodPost, "/api/scores/"+id+"/feedback", strings.NewReader(`{"feedback":"  "}`))
	w = httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty feedback status = %d, want 400", w.Code)
	}
}

func TestIgnoreEndpoint(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})
	id, _ := queueScore(t, s, "b")

	req := httptest.NewRequest(http.MethodPost, "/api/scores/"+id+"/ignore", strings.NewReader(`{"ignored":true}`))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	rec, err := s.db.GetScoreRecord(id)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Ignored {
		t.Error("record not ignored")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/scores/nope/ignore", strings.NewReader(`{"ignored":true}`))
	w = httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown score status = %d, want 404", w.Code)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})

	// Without feedback a snapshot is skipped, not created empty.
	req := httptest.NewRequest(http.MethodPost, "/api/feedback/snapshot", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK || decodeResponse(t, w)["status"] != "skipped" {
		t.Fatalf("empty snapshot: status %d, body %s", w.Code, w.Body.String())
	}

	id, _ := queueScore(t, s, "b")
	completeScore(t, s, id)
	if err := s.db.AppendScoreFeedback(id, "too harsh, +10"); err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/feedback/snapshot", nil)
	w = httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var snap store.FeedbackSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalFeedbacks != 1 || snap.Negative != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestScoresAPI(t *testing.T) {
	s := newTestService(t, &fakeGitHub{}, &fakeInvoker{})
	id, _ := queueScore(t, s, "b")
	completeScore(t, s, id)

	req := httptest.NewRequest(http.MethodGet, "/api/scores?author=alice", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listResp struct {
		Scores []scoreView `json:"scores"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatal(err)
	}
	if len(listResp.Scores) != 1 || listResp.Scores[0].ID != id {
		t.Fatalf("scores = %+v", listResp.Scores)
	}
	if listResp.Scores[0].Result.OverallScore != 80 {
		t.Errorf("overall = %d", listResp.Scores[0].Result.OverallScore)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w = httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	var stats store.ScoreStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/scores/nope", nil)
	w = httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing score status = %d, want 404", w.Code)
	}
}
