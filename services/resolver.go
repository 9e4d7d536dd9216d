package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
)

const unknownSegment = "unknown"

// RepoRef is a resolved repository reference.
type RepoRef struct {
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	CanonicalURL string `json:"url"`
}

// ResolveRepository normalises a full GitHub URL, an owner/repo short form
// or a bare repository name. Malformed URLs degrade to "unknown" parts
// instead of failing.
func ResolveRepository(raw string) (RepoRef, error) {
	cleaned := cleanRepoInput(raw)
	if cleaned == "" {
		return RepoRef{}, ErrRepositoryRequired
	}

	if strings.Contains(cleaned, "github.com") {
		_, path, _ := strings.Cut(cleaned, "github.com/")
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
		segments := nonEmpty(strings.Split(path, "/"))

		owner, name := unknownSegment, unknownSegment
		if len(segments) > 0 {
			owner = segments[0]
		}
		if len(segments) > 1 {
			name = cleanRepoInput(segments[1])
		}
		if len(segments) > 1 {
			// Keep the user's own spelling of a well-formed URL.
			return RepoRef{Owner: owner, Name: name, CanonicalURL: cleaned}, nil
		}
		return RepoRef{Owner: owner, Name: name, CanonicalURL: canonicalURL(owner, name)}, nil
	}

	if strings.Contains(cleaned, "/") {
		segments := nonEmpty(strings.Split(cleaned, "/"))
		owner, name := unknownSegment, unknownSegment
		if len(segments) > 0 {
			owner = segments[0]
		}
		if len(segments) > 1 {
			name = segments[1]
		}
		return RepoRef{Owner: owner, Name: name, CanonicalURL: canonicalURL(owner, name)}, nil
	}

	return RepoRef{Owner: unknownSegment, Name: cleaned, CanonicalURL: canonicalURL(unknownSegment, cleaned)}, nil
}

// FullName is the owner/repo form used against the GitHub API.
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// RepositoryResolver resolves references and upserts the Repository row.
type RepositoryResolver struct {
	repo *repository.GORMRepository
}

func NewRepositoryResolver(repo *repository.GORMRepository) *RepositoryResolver {
	return &RepositoryResolver{repo: repo}
}

// Upsert resolves raw and stores it keyed on the canonical URL. Only the
// name is refreshed on conflict.
func (r *RepositoryResolver) Upsert(ctx context.Context, raw string) (*models.Repository, RepoRef, error) {
	ref, err := ResolveRepository(raw)
	if err != nil {
		return nil, RepoRef{}, err
	}
	return r.UpsertRef(ctx, ref)
}

// UpsertRef stores an already resolved reference.
func (r *RepositoryResolver) UpsertRef(ctx context.Context, ref RepoRef) (*models.Repository, RepoRef, error) {
	stored, err := r.repo.UpsertRepository(ctx, &models.Repository{
		Name:  ref.Name,
		Owner: ref.Owner,
		URL:   ref.CanonicalURL,
	})
	if err != nil {
		return nil, ref, fmt.Errorf("failed to store repository: %w", err)
	}
	return stored, ref, nil
}

// WithTx returns a resolver bound to tx.
func (r *RepositoryResolver) WithTx(tx *repository.GORMRepository) *RepositoryResolver {
	return &RepositoryResolver{repo: tx}
}

// cleanRepoInput trims whitespace and any trailing "/" or ".git".
func cleanRepoInput(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

func canonicalURL(owner, name string) string {
	return "https://github.com/" + owner + "/" + name
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
