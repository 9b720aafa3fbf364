package gitremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	ErrMalformedURL = errors.New("invalid github repository url")
	ErrRepoNotFound = errors.New("repository not found")
	ErrRateLimited  = errors.New("github api rate limit exceeded")
	ErrUnavailable  = errors.New("github api unavailable")
)

var validNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

const (
	DefaultAPIBase = "https://api.github.com"
	requestTimeout = 15 * time.Second
)

// RepoRef is a parsed repository locator. Parsing happens at submission time;
// the executor only ever receives an already-valid ref.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoURL validates a user-supplied repository URL and extracts the
// owner and repo name. Anything that is not an https github.com repo URL is
// rejected with ErrMalformedURL before any task exists.
func ParseRepoURL(raw string) (RepoRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RepoRef{}, fmt.Errorf("%w: url is empty", ErrMalformedURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return RepoRef{}, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme != "https" || !strings.EqualFold(u.Host, "github.com") {
		return RepoRef{}, fmt.Errorf("%w: must be an https github.com url", ErrMalformedURL)
	}

	parts := strings.FieldsFunc(strings.Trim(u.Path, "/"), func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return RepoRef{}, fmt.Errorf("%w: path must be owner/repository", ErrMalformedURL)
	}
	owner, name := parts[0], strings.TrimSuffix(parts[1], ".git")
	if !validNameRe.MatchString(owner) || !validNameRe.MatchString(name) {
		return RepoRef{}, fmt.Errorf("%w: invalid characters in owner or repository name", ErrMalformedURL)
	}
	return RepoRef{Owner: owner, Name: name}, nil
}

// Commit is one extracted commit: author, ISO timestamp, first message line.
type Commit struct {
	Author  string
	Date    string
	Message string
}

// Client fetches public repository content over the GitHub REST API.
type Client struct {
	apiBase string
	token   string
	http    *http.Client
}

// NewClient builds a GitHub API client. token is optional; anonymous access
// works for public repositories but hits a much lower rate limit.
func NewClient(apiBase, token string) *Client {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		apiBase: apiBase,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type commitEnvelope struct {
	Commit struct {
		Author struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
		Message string `json:"message"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

// RecentCommits fetches commits from the last `days` days, newest first,
// capped at `limit`. A 422 (empty repository) yields an empty list, not an
// error.
func (c *Client) RecentCommits(ctx context.Context, ref RepoRef, days, limit int) ([]Commit, error) {
	if days <= 0 {
		days = 3
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?per_page=%d&since=%s",
		c.apiBase, ref.Owner, ref.Name, limit, url.QueryEscape(since.Format(time.RFC3339)))

	body, status, err := c.get(ctx, endpoint, "application/vnd.github.v3+json")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRepoNotFound, ref)
	case http.StatusForbidden:
		return nil, ErrRateLimited
	case http.StatusUnprocessableEntity:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}

	var envelopes []commitEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("%w: unexpected response format", ErrUnavailable)
	}

	out := make([]Commit, 0, len(envelopes))
	for _, env := range envelopes {
		if len(out) >= limit {
			break
		}
		author := strings.TrimSpace(env.Commit.Author.Name)
		if author == "" && env.Author != nil {
			author = env.Author.Login
		}
		if author == "" {
			author = "Unknown Author"
		}
		message, _, _ := strings.Cut(env.Commit.Message, "\n")
		out = append(out, Commit{
			Author:  author,
			Date:    env.Commit.Author.Date,
			Message: strings.TrimSpace(message),
		})
	}
	return out, nil
}

// Readme fetches the repository README as raw text. A repository without a
// README is not an error; the story worker degrades to commits only.
func (c *Client) Readme(ctx context.Context, ref RepoRef) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/readme", c.apiBase, ref.Owner, ref.Name)

	body, status, err := c.get(ctx, endpoint, "application/vnd.github.raw+json")
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return string(body), nil
	case http.StatusNotFound:
		return "", nil
	case http.StatusForbidden:
		return "", ErrRateLimited
	default:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
}

func (c *Client) get(ctx context.Context, endpoint, accept string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: request timed out", ErrUnavailable)
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, resp.StatusCode, nil
}
