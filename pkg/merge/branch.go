/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

package merge

import (
	"context"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/infra-bits/npmup/pkg/changeset"
	"github.com/infra-bits/npmup/pkg/gh"
)

// branchBuilder owns the run's working branch: a freshly generated
// "npmup-<uuid>" name, so concurrent and repeated runs never collide.
type branchBuilder struct {
	client gh.Client
	name   string
}

func newBranchBuilder(client gh.Client) *branchBuilder {
	return &branchBuilder{
		client: client,
		name:   "npmup-" + uuid.NewString(),
	}
}

func (b *branchBuilder) ref() string {
	return "refs/heads/" + b.name
}

// createBranch creates the working branch at baseSHA and returns the
// branch head SHA.
func (b *branchBuilder) createBranch(ctx context.Context, baseSHA string) (string, error) {
	if baseSHA == "" {
		return "", &OrchestrationError{Reason: "creating branch with no base SHA"}
	}
	if err := b.client.CreateRef(ctx, b.ref(), baseSHA); err != nil {
		return "", err
	}
	clog.FromContext(ctx).With("sha", baseSHA).Debug("Created branch")
	return baseSHA, nil
}

// updateBranchFiles applies the whole patch as one commit on top of
// branchSHA and advances the branch to it, returning the new head SHA.
// All patch entries land in a single tree, so the manifest and lockfile
// can never diverge mid-update.
func (b *branchBuilder) updateBranchFiles(ctx context.Context, branchSHA string, patch changeset.FilePatch, summary, description string) (string, error) {
	if branchSHA == "" {
		return "", &OrchestrationError{Reason: "committing with no branch"}
	}

	message := strings.TrimSpace(summary)
	if description = strings.TrimSpace(description); description != "" {
		message += "\n\n" + description
	}

	sha, err := b.client.CreateCommit(ctx, branchSHA, patch, message)
	if err != nil {
		return "", err
	}
	if err := b.client.UpdateRef(ctx, b.ref(), sha); err != nil {
		return "", err
	}
	return sha, nil
}
