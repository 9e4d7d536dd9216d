package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// RepoSource lists and reads files of a hosted repository.
type RepoSource interface {
	ListFiles(ctx context.Context, owner, repo string) ([]string, error)
	FetchFile(ctx context.Context, owner, repo, path string) (string, error)
}

// GitHubService reads repositories through the GitHub REST API. Tree
// listings are cached per repository for a TTL and concurrent misses for the
// same repository share one fetch.
type GitHubService struct {
	client *github.Client
	trees  *expirable.LRU[string, []string]
	group  singleflight.Group
}

func NewGitHubService(cfg GitHubConfig) (*GitHubService, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	client := github.NewClient(&http.Client{Timeout: 60 * time.Second})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.APIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = base
	}

	return &GitHubService{
		client: client,
		trees:  expirable.NewLRU[string, []string](size, nil, ttl),
	}, nil
}

// ListFiles returns every blob path on the default branch.
func (g *GitHubService) ListFiles(ctx context.Context, owner, repo string) ([]string, error) {
	key := strings.ToLower(owner + "/" + repo)
	if paths, ok := g.trees.Get(key); ok {
		return paths, nil
	}

	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		paths, err := g.fetchTree(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		g.trees.Add(key, paths)
		return paths, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// FetchFile returns the decoded content of path on the default branch.
func (g *GitHubService) FetchFile(ctx context.Context, owner, repo, path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	file, _, resp, err := g.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return "", apiError(resp, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return content, nil
}

func (g *GitHubService) fetchTree(ctx context.Context, owner, repo string) ([]string, error) {
	info, resp, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, apiError(resp, err)
	}
	branch := info.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	tree, resp, err := g.client.Git.GetTree(ctx, owner, repo, branch, true)
	if err != nil {
		return nil, apiError(resp, err)
	}
	if tree.GetTruncated() {
		slog.Warn("GitHub tree listing truncated", "repo", owner+"/"+repo)
	}

	paths := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}
	slog.Info("Fetched repository tree", "repo", owner+"/"+repo, "branch", branch, "files", len(paths))
	return paths, nil
}

func apiError(resp *github.Response, err error) error {
	if resp != nil {
		return fmt.Errorf("github API error: %d: %w", resp.StatusCode, err)
	}
	return fmt.Errorf("github API request failed: %w", err)
}
