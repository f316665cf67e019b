// Package github wraps go-github with the typed operations the services
// need: PR reads for reviewing, issue writes for copying and scoring, and
// contents/ref management for re-hosting images on an assets branch.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/hubmon/hubmon/internal/retry"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"
)

// maxDownloadBytes caps image downloads during re-hosting.
const maxDownloadBytes = 10 << 20

// PR is the pull request context a review needs.
type PR struct {
	Number  int
	Title   string
	Body    string
	Author  string
	HTMLURL string
	Draft   bool
	Labels  []string
}

// FileDiff is one changed file with its unified patch. Patch is empty for
// binary files.
type FileDiff struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// Issue is a created or fetched issue.
type Issue struct {
	Number  int
	Title   string
	Body    string
	HTMLURL string
	Labels  []string
}

// Comment is a posted issue or PR comment.
type Comment struct {
	ID      int64
	HTMLURL string
}

// Client is a typed GitHub API client wrapping go-github.
type Client struct {
	gh           *gh.Client
	http         *http.Client
	retryBackoff []time.Duration
}

// Option configures a Client.
type Option func(*clientConfig)

// AppCredentials holds GitHub App authentication parameters.
type AppCredentials struct {
	ClientID       string
	InstallationID int64
	PrivateKeyPath string
}

type clientConfig struct {
	baseURL      string
	retryBackoff []time.Duration
	app          *AppCredentials
}

// readKeyFile is a variable for testing; defaults to os.ReadFile.
var readKeyFile = os.ReadFile

// WithBaseURL overrides the GitHub API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithRetryBackoff overrides the default retry backoff delays.
func WithRetryBackoff(delays ...time.Duration) Option {
	return func(c *clientConfig) { c.retryBackoff = delays }
}

// WithAppAuth configures GitHub App authentication using a Client ID,
// installation ID, and private key file. When set, token is ignored.
func WithAppAuth(app AppCredentials) Option {
	return func(c *clientConfig) { c.app = &app }
}

// New creates a new GitHub API client. When WithAppAuth is provided, the
// client authenticates as a GitHub App installation (token is ignored).
// Otherwise it authenticates with the given personal access token.
func New(token string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	var client *gh.Client

	if cfg.app != nil {
		httpClient, err := newAppHTTPClient(cfg.app, cfg.baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub App auth: %w", err)
		}
		client = gh.NewClient(httpClient)
		if cfg.baseURL != "" {
			client, _ = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
		}
	} else {
		client = gh.NewClient(nil).WithAuthToken(token)
		if cfg.baseURL != "" {
			client, _ = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
		}
	}

	return &Client{
		gh:           client,
		http:         &http.Client{Timeout: 30 * time.Second},
		retryBackoff: cfg.retryBackoff,
	}, nil
}

// newAppHTTPClient creates an http.Client with a GitHub App installation
// transport that uses Client ID (string) as the JWT issuer.
func newAppHTTPClient(app *AppCredentials, baseURL string) (*http.Client, error) {
	keyPath := expandHome(app.PrivateKeyPath)
	keyData, err := readKeyFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", app.PrivateKeyPath, err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer := &clientIDSigner{
		clientID: app.ClientID,
		method:   jwt.SigningMethodRS256,
		key:      key,
	}

	atr, err := ghinstallation.NewAppsTransportWithOptions(
		http.DefaultTransport, 0, // appID unused — the signer overrides the issuer
		ghinstallation.WithSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating apps transport: %w", err)
	}

	if baseURL != "" {
		atr.BaseURL = baseURL
	}

	itr := ghinstallation.NewFromAppsTransport(atr, app.InstallationID)
	if baseURL != "" {
		itr.BaseURL = baseURL
	}

	return &http.Client{Transport: itr}, nil
}

// clientIDSigner implements ghinstallation.Signer using a string Client ID
// as the JWT issuer instead of a numeric App ID.
type clientIDSigner struct {
	clientID string
	method   jwt.SigningMethod
	key      any
}

func (s *clientIDSigner) Sign(claims jwt.Claims) (string, error) {
	if rc, ok := claims.(*jwt.RegisteredClaims); ok {
		rc.Issuer = s.clientID
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

// SplitRepo splits "owner/name" into its parts.
func SplitRepo(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository name %q", fullName)
	}
	return owner, name, nil
}

// FetchPR returns the pull request metadata.
func (c *Client) FetchPR(ctx context.Context, owner, repo string, prNumber int) (PR, error) {
	return retry.DoVal(ctx, func() (PR, error) {
		pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, prNumber)
		if err != nil {
			return PR{}, classifyErr(fmt.Errorf("fetching PR %s/%s#%d: %w", owner, repo, prNumber, err))
		}
		labels := make([]string, 0, len(pr.Labels))
		for _, l := range pr.Labels {
			labels = append(labels, l.GetName())
		}
		return PR{
			Number:  pr.GetNumber(),
			Title:   pr.GetTitle(),
			Body:    pr.GetBody(),
			Author:  pr.GetUser().GetLogin(),
			HTMLURL: pr.GetHTMLURL(),
			Draft:   pr.GetDraft(),
			Labels:  labels,
		}, nil
	}, c.retryOpts()...)
}

// FetchPRFiles returns all changed files with their patches, following
// pagination.
func (c *Client) FetchPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]FileDiff, error) {
	return retry.DoVal(ctx, func() ([]FileDiff, error) {
		var files []FileDiff
		opts := &gh.ListOptions{PerPage: 100}
		for {
			page, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
			if err != nil {
				return nil, classifyErr(fmt.Errorf("listing PR files: %w", err))
			}
			for _, f := range page {
				files = append(files, FileDiff{
					Filename:  f.GetFilename(),
					Status:    f.GetStatus(),
					Additions: f.GetAdditions(),
					Deletions: f.GetDeletions(),
					Patch:     f.GetPatch(),
				})
			}
			if resp.NextPage == 0 {
				return files, nil
			}
			opts.Page = resp.NextPage
		}
	}, c.retryOpts()...)
}

// PostIssueComment posts a comment on an issue or pull request.
func (c *Client) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) (Comment, error) {
	return retry.DoVal(ctx, func() (Comment, error) {
		comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
			Body: gh.Ptr(body),
		})
		if err != nil {
			return Comment{}, classifyErr(fmt.Errorf("posting comment on %s/%s#%d: %w", owner, repo, number, err))
		}
		return Comment{ID: comment.GetID(), HTMLURL: comment.GetHTMLURL()}, nil
	}, c.retryOpts()...)
}

// CreateIssue creates an issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (Issue, error) {
	return retry.DoVal(ctx, func() (Issue, error) {
		req := &gh.IssueRequest{Title: gh.Ptr(title), Body: gh.Ptr(body)}
		if len(labels) > 0 {
			req.Labels = &labels
		}
		issue, _, err := c.gh.Issues.Create(ctx, owner, repo, req)
		if err != nil {
			return Issue{}, classifyErr(fmt.Errorf("creating issue in %s/%s: %w", owner, repo, err))
		}
		return issueFromGH(issue), nil
	}, c.retryOpts()...)
}

// AddLabels adds labels to an issue or pull request.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
		if err != nil {
			return classifyErr(fmt.Errorf("adding labels to %s/%s#%d: %w", owner, repo, number, err))
		}
		return nil
	}, c.retryOpts()...)
}

// ListRepoLabels returns the names of all labels defined on a repository.
func (c *Client) ListRepoLabels(ctx context.Context, owner, repo string) ([]string, error) {
	return retry.DoVal(ctx, func() ([]string, error) {
		var names []string
		opts := &gh.ListOptions{PerPage: 100}
		for {
			page, resp, err := c.gh.Issues.ListLabels(ctx, owner, repo, opts)
			if err != nil {
				return nil, classifyErr(fmt.Errorf("listing labels in %s/%s: %w", owner, repo, err))
			}
			for _, l := range page {
				names = append(names, l.GetName())
			}
			if resp.NextPage == 0 {
				return names, nil
			}
			opts.Page = resp.NextPage
		}
	}, c.retryOpts()...)
}

// EnsureBranch makes sure the branch exists, creating it from the default
// branch when missing. Returns the branch ref's SHA.
func (c *Client) EnsureBranch(ctx context.Context, owner, repo, branch string) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		ref, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
		if err == nil {
			return ref.GetObject().GetSHA(), nil
		}
		if !isNotFound(err) {
			return "", classifyErr(fmt.Errorf("getting ref %s: %w", branch, err))
		}

		repoInfo, _, err := c.gh.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return "", classifyErr(fmt.Errorf("getting repository %s/%s: %w", owner, repo, err))
		}
		base, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+repoInfo.GetDefaultBranch())
		if err != nil {
			return "", classifyErr(fmt.Errorf("getting default branch ref: %w", err))
		}

		created, _, err := c.gh.Git.CreateRef(ctx, owner, repo, &gh.Reference{
			Ref:    gh.Ptr("refs/heads/" + branch),
			Object: &gh.GitObject{SHA: base.GetObject().SHA},
		})
		if err != nil {
			// Lost a race with a concurrent upload; re-read the ref.
			if ref, _, rerr := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch); rerr == nil {
				return ref.GetObject().GetSHA(), nil
			}
			return "", classifyErr(fmt.Errorf("creating branch %s: %w", branch, err))
		}
		return created.GetObject().GetSHA(), nil
	}, c.retryOpts()...)
}

// UploadFile writes content to path on the given branch and returns the raw
// download URL. If the path already exists on the branch the existing file
// is kept, since re-host paths are content-stable.
func (c *Client) UploadFile(ctx context.Context, owner, repo, branch, path, message string, content []byte) (string, error) {
	rawURL := fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s?raw=true", owner, repo, branch, path)

	return retry.DoVal(ctx, func() (string, error) {
		existing, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
			&gh.RepositoryContentGetOptions{Ref: branch})
		if err == nil && existing != nil {
			return rawURL, nil
		}
		if err != nil && !isNotFound(err) {
			return "", classifyErr(fmt.Errorf("checking contents %s: %w", path, err))
		}

		_, _, err = c.gh.Repositories.CreateFile(ctx, owner, repo, path, &gh.RepositoryContentFileOptions{
			Message: gh.Ptr(message),
			Content: content,
			Branch:  gh.Ptr(branch),
		})
		if err != nil {
			return "", classifyErr(fmt.Errorf("uploading %s: %w", path, err))
		}
		return rawURL, nil
	}, c.retryOpts()...)
}

// DownloadBytes fetches an arbitrary URL, bounded to maxDownloadBytes. Used
// for pulling externally hosted images before re-upload.
func (c *Client) DownloadBytes(ctx context.Context, rawURL string) ([]byte, error) {
	return retry.DoVal(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("building download request: %w", err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", rawURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("downloading %s: status %d", rawURL, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rawURL, err)
		}
		if len(data) > maxDownloadBytes {
			return nil, retry.Permanent(fmt.Errorf("downloading %s: exceeds %d bytes", rawURL, maxDownloadBytes))
		}
		return data, nil
	}, c.retryOpts()...)
}

func (c *Client) retryOpts() []retry.Option {
	if len(c.retryBackoff) > 0 {
		return []retry.Option{retry.WithBackoff(c.retryBackoff...)}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// classifyErr marks client errors permanent so the retry loop stops early.
// 429 stays retryable since rate limits clear on their own.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil &&
		ghErr.Response.StatusCode == http.StatusNotFound
}

func issueFromGH(issue *gh.Issue) Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{
		Number:  issue.GetNumber(),
		Title:   issue.GetTitle(),
		Body:    issue.GetBody(),
		HTMLURL: issue.GetHTMLURL(),
		Labels:  labels,
	}
}
