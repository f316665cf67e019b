// Package webhook verifies GitHub webhook signatures and decodes the event
// payloads the services act on. Only the fields actually used are modeled;
// unknown keys are ignored.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Event types handled by the gateway.
const (
	EventPing         = "ping"
	EventPullRequest  = "pull_request"
	EventIssues       = "issues"
	EventIssueComment = "issue_comment"
)

// VerifySignature checks an X-Hub-Signature-256 header against the raw body
// using constant-time comparison. An empty secret disables verification,
// which is the documented bootstrap mode before a secret is configured.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	if secret == "" {
		return true
	}
	expected, ok := strings.CutPrefix(signatureHeader, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(expected))
}

// Repository is the repository block common to all events.
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

// User identifies an actor.
type User struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// Bot reports whether the actor is a bot account.
func (u User) Bot() bool {
	return u.Type == "Bot" || strings.HasSuffix(u.Login, "[bot]")
}

// Label is an issue or PR label.
type Label struct {
	Name string `json:"name"`
}

// LabelNames flattens labels to their names.
func LabelNames(labels []Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

// PullRequest is the pull_request block of a pull_request event.
type PullRequest struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	Draft   bool    `json:"draft"`
	User    User    `json:"user"`
	Labels  []Label `json:"labels"`
}

// Issue is the issue block of issues and issue_comment events.
type Issue struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	User    User    `json:"user"`
	Labels  []Label `json:"labels"`
	// PullRequest is non-nil when the "issue" is actually a PR; comment
	// events on PRs carry it and are skipped by the issue services.
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

// Comment is the comment block of an issue_comment event.
type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	User    User   `json:"user"`
}

// PullRequestEvent is a decoded pull_request event.
type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

// IssuesEvent is a decoded issues event.
type IssuesEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

// IssueCommentEvent is a decoded issue_comment event.
type IssueCommentEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Comment    Comment    `json:"comment"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

// Envelope carries the fields shared by every event, enough for the gateway
// to route and record without knowing the event-specific shape.
type Envelope struct {
	Action     string     `json:"action"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
	Number     int        `json:"number"`
	Issue      *Issue     `json:"issue,omitempty"`
}

// ParseEnvelope decodes the routing fields from a raw payload.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("parsing webhook payload: %w", err)
	}
	return env, nil
}

// IssueNumber returns the PR or issue number the envelope refers to.
func (e Envelope) IssueNumber() int {
	if e.Number != 0 {
		return e.Number
	}
	if e.Issue != nil {
		return e.Issue.Number
	}
	return 0
}

// ParsePullRequestEvent decodes and validates a pull_request payload.
func ParsePullRequestEvent(body []byte) (PullRequestEvent, error) {
	var ev PullRequestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return PullRequestEvent{}, fmt.Errorf("parsing pull_request event: %w", err)
	}
	if ev.Repository.FullName == "" {
		return PullRequestEvent{}, fmt.Errorf("pull_request event missing repository.full_name")
	}
	if ev.PullRequest.Number == 0 {
		ev.PullRequest.Number = ev.Number
	}
	if ev.PullRequest.Number == 0 {
		return PullRequestEvent{}, fmt.Errorf("pull_request event missing number")
	}
	return ev, nil
}

// ParseIssuesEvent decodes and validates an issues payload.
func ParseIssuesEvent(body []byte) (IssuesEvent, error) {
	var ev IssuesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return IssuesEvent{}, fmt.Errorf("parsing issues event: %w", err)
	}
	if ev.Repository.FullName == "" {
		return IssuesEvent{}, fmt.Errorf("issues event missing repository.full_name")
	}
	if ev.Issue.Number == 0 {
		return IssuesEvent{}, fmt.Errorf("issues event missing issue.number")
	}
	return ev, nil
}

// ParseIssueCommentEvent decodes and validates an issue_comment payload.
func ParseIssueCommentEvent(body []byte) (IssueCommentEvent, error) {
	var ev IssueCommentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return IssueCommentEvent{}, fmt.Errorf("parsing issue_comment event: %w", err)
	}
	if ev.Repository.FullName == "" {
		return IssueCommentEvent{}, fmt.Errorf("issue_comment event missing repository.full_name")
	}
	if ev.Issue.Number == 0 {
		return IssueCommentEvent{}, fmt.Errorf("issue_comment event missing issue.number")
	}
	if ev.Comment.ID == 0 {
		return IssueCommentEvent{}, fmt.Errorf("issue_comment event missing comment.id")
	}
	return ev, nil
}
