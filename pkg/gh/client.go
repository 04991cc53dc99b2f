/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

// Package gh is a thin authenticated client over the GitHub REST API,
// exposing just the ref, commit, pull request, comment and check-run
// operations the merge orchestrator needs. It classifies every failure
// as either a RemoteError (the API said no) or a TransportError (the
// network did), and never retries: retry policy belongs to the caller.
package gh

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// Ref is a fully-qualified git reference and the SHA it points at.
type Ref struct {
	Name string
	SHA  string
}

// CheckRun is the slice of a GitHub check run the orchestrator cares
// about: its workflow name and where it got to.
type CheckRun struct {
	Name       string
	Status     string
	Conclusion string
}

// Client is the repository surface of the GitHub API. Implementations
// must not retry internally.
type Client interface {
	// DefaultBranchHead returns the tip ref and SHA of the repository's
	// default branch.
	DefaultBranchHead(ctx context.Context) (*Ref, error)

	// CreateRef creates ref (fully qualified, e.g. "refs/heads/x")
	// pointing at sha.
	CreateRef(ctx context.Context, ref, sha string) error

	// CreateCommit builds a tree containing files applied on top of
	// parentSHA's tree and a commit with that tree and parent, returning
	// the new commit SHA. The ref is not advanced.
	CreateCommit(ctx context.Context, parentSHA string, files map[string]string, message string) (string, error)

	// UpdateRef fast-forwards ref to sha.
	UpdateRef(ctx context.Context, ref, sha string) error

	// DeleteRef deletes ref.
	DeleteRef(ctx context.Context, ref string) error

	// CreatePullRequest opens a pull request of head into base and
	// returns its number.
	CreatePullRequest(ctx context.Context, head, base, title, body string) (int, error)

	// ListCheckRuns returns every check run reported for sha.
	ListCheckRuns(ctx context.Context, sha string) ([]CheckRun, error)

	// MergePullRequest merges the given pull request.
	MergePullRequest(ctx context.Context, number int, message string) error

	// CreateComment posts an issue comment on the given pull request.
	CreateComment(ctx context.Context, number int, body string) error
}

// GitHub implements Client against a single owner/repo using
// google/go-github.
type GitHub struct {
	inner *github.Client
	owner string
	repo  string
}

var _ Client = (*GitHub)(nil)

// Option configures a GitHub client.
type Option func(*GitHub)

// WithClient replaces the underlying go-github client. Used by tests to
// point at an httptest server.
func WithClient(c *github.Client) Option {
	return func(g *GitHub) {
		g.inner = c
	}
}

// New returns a client for owner/repo authenticated with ts.
func New(ctx context.Context, owner, repo string, ts oauth2.TokenSource, opts ...Option) (*GitHub, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("creating github client: owner and repo must be set")
	}

	g := &GitHub{
		owner: owner,
		repo:  repo,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.inner == nil {
		g.inner = github.NewClient(oauth2.NewClient(ctx, ts))
	}
	return g, nil
}

// ParseRepository splits an "owner/name" repository identifier.
func ParseRepository(repository string) (owner, repo string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q: want owner/name", repository)
	}
	return parts[0], parts[1], nil
}

func (g *GitHub) DefaultBranchHead(ctx context.Context) (*Ref, error) {
	repo, _, err := g.inner.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return nil, fmt.Errorf("getting repository: %w", classify(err))
	}

	branch := repo.GetDefaultBranch()
	ref, _, err := g.inner.Git.GetRef(ctx, g.owner, g.repo, "heads/"+branch)
	if err != nil {
		return nil, fmt.Errorf("getting head ref: %w", classify(err))
	}

	return &Ref{
		Name: ref.GetRef(),
		SHA:  ref.GetObject().GetSHA(),
	}, nil
}

func (g *GitHub) CreateRef(ctx context.Context, ref, sha string) error {
	_, _, err := g.inner.Git.CreateRef(ctx, g.owner, g.repo, github.CreateRef{
		Ref: ref,
		SHA: sha,
	})
	if err != nil {
		return fmt.Errorf("creating ref %s: %w", ref, classify(err))
	}
	return nil
}

func (g *GitHub) CreateCommit(ctx context.Context, parentSHA string, files map[string]string, message string) (string, error) {
	parent, _, err := g.inner.Git.GetCommit(ctx, g.owner, g.repo, parentSHA)
	if err != nil {
		return "", fmt.Errorf("getting parent commit: %w", classify(err))
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	for path, content := range files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.Ptr(path),
			Mode:    github.Ptr("100644"),
			Type:    github.Ptr("blob"),
			Content: github.Ptr(content),
		})
	}

	tree, _, err := g.inner.Git.CreateTree(ctx, g.owner, g.repo, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return "", fmt.Errorf("creating tree: %w", classify(err))
	}

	commit, _, err := g.inner.Git.CreateCommit(ctx, g.owner, g.repo, github.Commit{
		Message: github.Ptr(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(parentSHA)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("creating commit: %w", classify(err))
	}

	clog.FromContext(ctx).With("sha", commit.GetSHA()).Debug("Created commit")
	return commit.GetSHA(), nil
}

func (g *GitHub) UpdateRef(ctx context.Context, ref, sha string) error {
	_, _, err := g.inner.Git.UpdateRef(ctx, g.owner, g.repo, ref, github.UpdateRef{
		SHA:   sha,
		Force: github.Ptr(false),
	})
	if err != nil {
		return fmt.Errorf("updating ref %s: %w", ref, classify(err))
	}
	return nil
}

func (g *GitHub) DeleteRef(ctx context.Context, ref string) error {
	_, err := g.inner.Git.DeleteRef(ctx, g.owner, g.repo, ref)
	if err != nil {
		return fmt.Errorf("deleting ref %s: %w", ref, classify(err))
	}
	return nil
}

func (g *GitHub) CreatePullRequest(ctx context.Context, head, base, title, body string) (int, error) {
	pr, _, err := g.inner.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return 0, fmt.Errorf("creating pull request: %w", classify(err))
	}

	clog.FromContext(ctx).With(
		"number", pr.GetNumber(),
		"url", pr.GetHTMLURL(),
	).Info("Created pull request")
	return pr.GetNumber(), nil
}

func (g *GitHub) ListCheckRuns(ctx context.Context, sha string) ([]CheckRun, error) {
	var runs []CheckRun
	opts := &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		results, resp, err := g.inner.Checks.ListCheckRunsForRef(ctx, g.owner, g.repo, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("listing check runs: %w", classify(err))
		}
		for _, run := range results.CheckRuns {
			runs = append(runs, CheckRun{
				Name:       run.GetName(),
				Status:     run.GetStatus(),
				Conclusion: run.GetConclusion(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return runs, nil
}

func (g *GitHub) MergePullRequest(ctx context.Context, number int, message string) error {
	_, _, err := g.inner.PullRequests.Merge(ctx, g.owner, g.repo, number, message, nil)
	if err != nil {
		return fmt.Errorf("merging pull request %d: %w", number, classify(err))
	}
	return nil
}

func (g *GitHub) CreateComment(ctx context.Context, number int, body string) error {
	_, _, err := g.inner.Issues.CreateComment(ctx, g.owner, g.repo, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("creating comment on pull request %d: %w", number, classify(err))
	}
	return nil
}
