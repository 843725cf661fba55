// Package hosting is the Bitbucket Cloud REST client: branch refs, branch
// creation, commit history and diffs. Each call maps to one API request;
// failures are surfaced immediately with no retries.
package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBranchNotFound is returned when a referenced branch does not exist.
var ErrBranchNotFound = errors.New("hosting: branch not found")

// ErrBranchExists is returned when branch creation collides with an
// existing branch name.
var ErrBranchExists = errors.New("hosting: branch already exists")

// APIError carries an unexpected upstream status so callers can propagate it.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hosting: api error (status %d): %s", e.Status, e.Message)
}

// Client talks to the Bitbucket 2.0 API with a workspace access token.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a Bitbucket API client.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.bitbucket.org",
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit is one entry of a branch's history.
type Commit struct {
	Hash    string
	Message string
	Author  string
	Date    time.Time
	Diff    string // filled by CommitDiffs
}

// BranchHead returns the head commit hash of a branch.
func (c *Client) BranchHead(ctx context.Context, workspace, repoSlug, branch string) (string, error) {
	hash, _, found, err := c.BranchInfo(ctx, workspace, repoSlug, branch)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("branch %q: %w", branch, ErrBranchNotFound)
	}
	return hash, nil
}

// BranchInfo looks up a branch ref, returning its head hash and public URL.
// A missing branch is not an error: found is false.
func (c *Client) BranchInfo(ctx context.Context, workspace, repoSlug, branch string) (hash, htmlURL string, found bool, err error) {
	// Branch names may contain slashes (feature/ABC-12) that must stay
	// path separators, so the name is interpolated unescaped.
	endpoint := fmt.Sprintf("%s/2.0/repositories/%s/%s/refs/branches/%s",
		c.baseURL, url.PathEscape(workspace), url.PathEscape(repoSlug), branch)

	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", "", false, err
	}
	if status == http.StatusNotFound {
		return "", "", false, nil
	}
	if status != http.StatusOK {
		return "", "", false, &APIError{Status: status, Message: string(body)}
	}

	var ref struct {
		Target struct {
			Hash string `json:"hash"`
		} `json:"target"`
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &ref); err != nil {
		return "", "", false, fmt.Errorf("hosting: decode branch ref: %w", err)
	}
	return ref.Target.Hash, ref.Links.HTML.Href, true, nil
}

// CreateBranch creates a branch at the given commit and returns its public URL.
func (c *Client) CreateBranch(ctx context.Context, workspace, repoSlug, name, targetHash string) (string, error) {
	endpoint := fmt.Sprintf("%s/2.0/repositories/%s/%s/refs/branches",
		c.baseURL, url.PathEscape(workspace), url.PathEscape(repoSlug))

	payload, _ := json.Marshal(map[string]any{
		"name":   name,
		"target": map[string]string{"hash": targetHash},
	})

	status, body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}
	if status == http.StatusBadRequest && bytes.Contains(body, []byte("already exists")) {
		return "", fmt.Errorf("branch %q: %w", name, ErrBranchExists)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", &APIError{Status: status, Message: string(body)}
	}

	var created struct {
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("hosting: decode created branch: %w", err)
	}
	return created.Links.HTML.Href, nil
}

// Commits returns up to limit commits of a branch, newest first.
func (c *Client) Commits(ctx context.Context, workspace, repoSlug, branch string, limit int) ([]Commit, error) {
	endpoint := fmt.Sprintf("%s/2.0/repositories/%s/%s/commits/%s?pagelen=%d",
		c.baseURL, url.PathEscape(workspace), url.PathEscape(repoSlug), branch, limit)

	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{Status: status, Message: string(body)}
	}

	var page struct {
		Values []struct {
			Hash    string    `json:"hash"`
			Message string    `json:"message"`
			Date    time.Time `json:"date"`
			Author  struct {
				Raw  string `json:"raw"`
				User struct {
					DisplayName string `json:"display_name"`
				} `json:"user"`
			} `json:"author"`
		} `json:"values"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("hosting: decode commits: %w", err)
	}

	commits := make([]Commit, 0, len(page.Values))
	for _, v := range page.Values {
		author := v.Author.User.DisplayName
		if author == "" {
			author = v.Author.Raw
		}
		if author == "" {
			author = "Unknown"
		}
		commits = append(commits, Commit{
			Hash:    v.Hash,
			Message: v.Message,
			Author:  author,
			Date:    v.Date,
		})
	}
	return commits, nil
}

// Diff returns the unified diff of a single commit.
func (c *Client) Diff(ctx context.Context, workspace, repoSlug, hash string) (string, error) {
	endpoint := fmt.Sprintf("%s/2.0/repositories/%s/%s/diff/%s",
		c.baseURL, url.PathEscape(workspace), url.PathEscape(repoSlug), hash)

	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &APIError{Status: status, Message: string(body)}
	}
	return string(body), nil
}

// CommitDiffs fetches a branch's recent commits with per-commit diffs
// attached. Commits whose diff fetch fails are kept without one.
func (c *Client) CommitDiffs(ctx context.Context, workspace, repoSlug, branch string, maxCommits int) ([]Commit, error) {
	commits, err := c.Commits(ctx, workspace, repoSlug, branch, maxCommits)
	if err != nil {
		return nil, fmt.Errorf("hosting: fetch commits: %w", err)
	}
	// The page size is a hint; the API may still return more.
	if len(commits) > maxCommits {
		commits = commits[:maxCommits]
	}

	for i := range commits {
		diff, err := c.Diff(ctx, workspace, repoSlug, commits[i].Hash)
		if err != nil {
			continue
		}
		commits[i].Diff = diff
	}
	return commits, nil
}

// do runs one request and returns the status and body. Non-2xx statuses
// are returned to the caller for per-endpoint interpretation.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("hosting: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("hosting: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("hosting: read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
