package ssg

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Source knows how to download template bundles for URLs starting with its
// prefix. Adding a host means adding a Source; the Fetcher is unchanged.
type Source interface {
	Prefix() string
	ArchiveRequest(ctx context.Context, templateURL string) (*http.Request, error)
}

const (
	githubPrefix     = "https://github.com/"
	githubAPIBase    = "https://api.github.com"
	githubAPIVersion = "2022-11-28"
)

var githubPattern = regexp.MustCompile(`^https://github\.com/([^/\s?#]+)/([^/\s?#]+)`)

// GitHubSource downloads repository zipballs from the GitHub REST API.
type GitHubSource struct {
	// APIBase defaults to https://api.github.com.
	APIBase string
	// Token is sent as a bearer token when set. Without it requests are
	// unauthenticated and rate limited.
	Token string
}

func (g *GitHubSource) Prefix() string { return githubPrefix }

// Repo extracts owner and repository from a github.com URL.
func (g *GitHubSource) Repo(templateURL string) (owner, repo string, err error) {
	m := githubPattern.FindStringSubmatch(templateURL)
	if m == nil {
		return "", "", fmt.Errorf("invalid GitHub URL %q", templateURL)
	}
	repo = strings.TrimSuffix(m[2], ".git")
	if repo == "" {
		return "", "", fmt.Errorf("invalid GitHub URL %q", templateURL)
	}
	return m[1], repo, nil
}

func (g *GitHubSource) ArchiveRequest(ctx context.Context, templateURL string) (*http.Request, error) {
	owner, repo, err := g.Repo(templateURL)
	if err != nil {
		return nil, err
	}
	base := g.APIBase
	if base == "" {
		base = githubAPIBase
	}
	u := fmt.Sprintf("%s/repos/%s/%s/zipball", strings.TrimSuffix(base, "/"), owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	return req, nil
}
