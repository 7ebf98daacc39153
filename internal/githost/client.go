// Package githost is the GitHub REST client the selector draws
// candidates from. Rate limiting is surfaced as a distinct error so
// callers can back off or rotate tokens instead of treating it as an
// empty result.
package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
)

// MaxFileBytes caps how much of a file the client will read.
const MaxFileBytes = 1 << 20 // 1 MiB

// Client talks to the GitHub REST v3 API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string // default: https://api.github.com
	Token   string // optional; unauthenticated requests have tight quotas
}

// NewClient creates a GitHub client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Repo is one candidate repository from a search.
type Repo struct {
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	LicenseURL    string
	Stars         int
}

// TreeEntry is one file in a repository tree listing.
type TreeEntry struct {
	Path string
	Size int
}

type searchReposResponse struct {
	Items []struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
		DefaultBranch   string `json:"default_branch"`
		StargazersCount int    `json:"stargazers_count"`
		License         *struct {
			URL string `json:"url"`
		} `json:"license"`
	} `json:"items"`
}

// SearchRepos lists repositories for a language, ordered by stars.
// Duplicate full names are collapsed to one candidate.
func (c *Client) SearchRepos(ctx context.Context, language string, page, perPage int) ([]Repo, error) {
	if perPage <= 0 {
		perPage = 30
	}
	if page <= 0 {
		page = 1
	}

	q := url.Values{}
	q.Set("q", fmt.Sprintf("language:%s stars:>100", language))
	q.Set("sort", "stars")
	q.Set("per_page", fmt.Sprintf("%d", perPage))
	q.Set("page", fmt.Sprintf("%d", page))

	var resp searchReposResponse
	if err := c.getJSON(ctx, "/search/repositories?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(resp.Items))
	repos := make([]Repo, 0, len(resp.Items))
	for _, item := range resp.Items {
		if seen[item.FullName] {
			continue
		}
		seen[item.FullName] = true

		r := Repo{
			Owner:         item.Owner.Login,
			Name:          item.Name,
			FullName:      item.FullName,
			DefaultBranch: item.DefaultBranch,
			Stars:         item.StargazersCount,
		}
		if item.License != nil {
			r.LicenseURL = item.License.URL
		}
		repos = append(repos, r)
	}
	return repos, nil
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Size int    `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// ListFiles returns the blob entries of a repository tree at ref.
func (c *Client) ListFiles(ctx context.Context, owner, repo, ref string) ([]TreeEntry, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))

	var resp treeResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	entries := make([]TreeEntry, 0, len(resp.Tree))
	for _, e := range resp.Tree {
		if e.Type != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{Path: e.Path, Size: e.Size})
	}
	return entries, nil
}

// FetchFile retrieves the raw content of one file at ref.
func (c *Client) FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo),
		escapePath(path), url.QueryEscape(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileBytes))
	if err != nil {
		return "", fmt.Errorf("read file body: %w", err)
	}
	return string(body), nil
}

type commitResponse struct {
	SHA string `json:"sha"`
}

// ResolveCommit resolves a ref to a commit SHA. It never hard-fails:
// on any error the ref itself is returned so generation can proceed
// with a weaker identity.
func (c *Client) ResolveCommit(ctx context.Context, owner, repo, ref string) string {
	path := fmt.Sprintf("/repos/%s/%s/commits/%s",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))

	var resp commitResponse
	if err := c.getJSON(ctx, path, &resp); err != nil || resp.SHA == "" {
		return ref
	}
	return resp.SHA
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyStatus maps an HTTP response to the domain error taxonomy.
// Rate limiting (429, or 403 with an exhausted quota) must stay
// distinguishable from not-found and from generic upstream failure.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status 429", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
			return fmt.Errorf("%w: status 403, quota exhausted", domain.ErrRateLimited)
		}
		return fmt.Errorf("%w: status 403", domain.ErrUpstreamUnavailable)
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrFileNotFound
	default:
		return fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}
}

// escapePath escapes a slash-separated repo path segment by segment.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
