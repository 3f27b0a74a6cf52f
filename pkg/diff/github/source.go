// Package github implements diff.Source using the GitHub compare API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/quartzci/quartz/pkg/diff"
)

// Compile-time interface satisfaction check.
var _ diff.Source = (*Source)(nil)

// Source detects changed files through the GitHub compare API.
type Source struct {
	gh    *gh.Client
	owner string
	repo  string
}

// Config configures a GitHub diff source.
type Config struct {
	// Owner is the repository owner (user or org). Required.
	Owner string

	// Repo is the repository name. Required.
	Repo string

	// Token is a personal access token. Optional for public repositories,
	// but unauthenticated requests are heavily rate limited.
	Token string
}

// New creates a Source backed by the public GitHub API.
func New(cfg Config) (*Source, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	client := gh.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}

	return &Source{gh: client, owner: cfg.Owner, repo: cfg.Repo}, nil
}

// NewWithHTTPClient creates a Source with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an
// httptest server.
func NewWithHTTPClient(httpClient *http.Client, baseURL string, cfg Config) (*Source, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	client := gh.NewClient(httpClient)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Source{gh: client, owner: cfg.Owner, repo: cfg.Repo}, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Owner) == "" || strings.TrimSpace(cfg.Repo) == "" {
		return fmt.Errorf("owner and repo are required")
	}
	return nil
}

// ChangedFiles compares base...head and returns the reported file paths.
// Pagination is handled internally.
func (s *Source) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	if strings.TrimSpace(base) == "" || strings.TrimSpace(head) == "" {
		return nil, s.wrapError(base, head, diff.ErrRangeUnresolvable)
	}

	var paths []string
	opts := &gh.ListOptions{PerPage: 100}

	for {
		cmp, resp, err := s.gh.Repositories.CompareCommits(ctx, s.owner, s.repo, base, head, opts)
		if err != nil {
			return nil, s.wrapError(base, head, classify(err))
		}

		for _, f := range cmp.Files {
			if name := f.GetFilename(); name != "" {
				paths = append(paths, name)
			}
			// Renames report both sides; the old path counts as changed too.
			if prev := f.GetPreviousFilename(); prev != "" {
				paths = append(paths, prev)
			}
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return paths, nil
}

func (s *Source) wrapError(base, head string, err error) error {
	return &diff.SourceError{
		Op:     "ChangedFiles",
		Source: diff.SourceGitHub,
		Base:   base,
		Head:   head,
		Err:    err,
	}
}

// classify maps go-github errors onto the diff sentinel taxonomy.
func classify(err error) error {
	switch e := err.(type) {
	case *gh.RateLimitError, *gh.AbuseRateLimitError:
		return fmt.Errorf("%w: %v", diff.ErrThrottled, err)
	case *gh.ErrorResponse:
		if e.Response != nil {
			switch e.Response.StatusCode {
			case http.StatusNotFound:
				// Unknown SHA or branch: the range cannot be compared.
				return fmt.Errorf("%w: %v", diff.ErrRangeUnresolvable, err)
			case http.StatusBadGateway, http.StatusServiceUnavailable:
				return fmt.Errorf("%w: %v", diff.ErrSourceUnavailable, err)
			}
		}
	}
	return err
}
