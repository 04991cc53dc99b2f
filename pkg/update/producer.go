/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

// Package update discovers outdated npm dependencies by driving
// npm-check-updates over a working copy and captures the rewritten
// manifest and lockfile for the merge orchestrator.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/chainguard-dev/clog"

	"github.com/infra-bits/npmup/pkg/changeset"
)

const (
	manifestName = "package.json"
	lockfileName = "package-lock.json"
)

// ErrUnparseableScan is returned when ncu runs but its output is not
// the JSON upgrade report we asked for. This is reported rather than
// treated as "no updates" so a broken scan tool cannot silently park
// the repository on stale dependencies.
var ErrUnparseableScan = errors.New("unparseable ncu output")

// Result is one scan of a working directory: what moved, and the full
// rewritten contents of both files.
type Result struct {
	Changes  changeset.Set
	Manifest string
	Lockfile string
}

// HasChanges reports whether there is anything worth committing.
func (r *Result) HasChanges() bool {
	return !r.Changes.Empty() && r.Manifest != "" && r.Lockfile != ""
}

// runnerFunc executes a command in dir and returns its stdout.
type runnerFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Producer runs the dependency scan. The zero value is not usable; use
// New.
type Producer struct {
	run runnerFunc
}

// Option configures a Producer.
type Option func(*Producer)

// WithRunner replaces the command runner. Used by tests.
func WithRunner(run runnerFunc) Option {
	return func(p *Producer) { p.run = run }
}

// New returns a Producer that shells out to ncu and npm.
func New(opts ...Option) *Producer {
	p := &Producer{
		run: func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Dir = dir
			return cmd.Output()
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scan updates dir in place and returns what changed. A directory with
// no manifest/lockfile pair yields an empty Result and no error; that
// is a normal "nothing to do here" outcome.
func (p *Producer) Scan(ctx context.Context, dir string) (*Result, error) {
	log := clog.FromContext(ctx)

	manifestPath := filepath.Join(dir, manifestName)
	if _, err := os.Stat(manifestPath); err != nil {
		log.Infof("Could not find packages (%s)", manifestPath)
		return &Result{}, nil
	}

	lockfilePath := filepath.Join(dir, lockfileName)
	if _, err := os.Stat(lockfilePath); err != nil {
		log.Infof("Could not find lock (%s)", lockfilePath)
		return &Result{}, nil
	}

	log.Info("Calling ncu")
	out, err := p.run(ctx, dir, "ncu", "-u", "--jsonUpgraded")
	if err != nil {
		return nil, fmt.Errorf("running ncu: %w", err)
	}

	var updates map[string]string
	if err := json.Unmarshal(out, &updates); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnparseableScan, string(out))
	}

	if len(updates) > 0 {
		log.Info("Calling npm install")
		if _, err := p.run(ctx, dir, "npm", "install", "--package-lock-only"); err != nil {
			return nil, fmt.Errorf("running npm install: %w", err)
		}
	}

	manifest, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestName, err)
	}
	lockfile, err := os.ReadFile(lockfilePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", lockfileName, err)
	}

	return &Result{
		Changes:  changeset.FromMap(updates),
		Manifest: string(manifest),
		Lockfile: string(lockfile),
	}, nil
}
