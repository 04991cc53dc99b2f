/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

// Package merge drives one dependency update from computed file changes
// to a merged (or rolled back) pull request.
//
// The run is an explicit state machine:
//
//	INIT → BRANCHED → COMMITTED → PR_OPEN → CHECKS_PASSED → MERGED
//	                                      ↘ CHECKS_FAILED → ROLLED_BACK
//	          (any setup failure)         → ABORTED
//
// Every terminal state is represented in the returned Outcome so callers
// can distinguish "checks failed, branch cleaned up" from "merge refused
// after green checks" without parsing errors.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"

	"github.com/infra-bits/npmup/pkg/changeset"
	"github.com/infra-bits/npmup/pkg/gh"
)

// State is a node of the orchestration state machine.
type State string

const (
	StateInit         State = "INIT"
	StateBranched     State = "BRANCHED"
	StateCommitted    State = "COMMITTED"
	StatePROpen       State = "PR_OPEN"
	StateChecksPassed State = "CHECKS_PASSED"
	StateChecksFailed State = "CHECKS_FAILED"
	StateMerged       State = "MERGED"
	StateRolledBack   State = "ROLLED_BACK"
	StateAborted      State = "ABORTED"
)

const (
	defaultPollInterval     = 10 * time.Second
	defaultPollTimeout      = 30 * time.Minute
	defaultTransportRetries = 5
	defaultRetryBackoff     = 2 * time.Second
)

// Outcome is where a run ended up and the handles it created along the
// way, for logging and assertions.
type Outcome struct {
	State           State
	Branch          string
	CommitSHA       string
	PullRequest     int
	FailedWorkflows []string
}

// Orchestrator runs the pull-request lifecycle for one repository.
// A single Orchestrator may be reused; each Run owns its own branch
// name and pull request.
type Orchestrator struct {
	client    gh.Client
	workflows []string

	clock            clockwork.Clock
	pollInterval     time.Duration
	pollTimeout      time.Duration
	transportRetries int
	retryBackoff     time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for poll sleeps and the check timeout.
// Tests pass a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithPollInterval sets the delay between check-run polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithPollTimeout bounds how long a run waits for required workflows to
// reach a terminal status.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollTimeout = d }
}

// WithTransportRetries sets how many consecutive transport failures the
// check poller tolerates before giving up.
func WithTransportRetries(n int) Option {
	return func(o *Orchestrator) { o.transportRetries = n }
}

// WithRetryBackoff sets the initial backoff after a transport failure;
// it doubles on each consecutive failure.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.retryBackoff = d }
}

// New returns an Orchestrator gating merges on the given required
// workflow names.
func New(client gh.Client, workflows []string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:           client,
		workflows:        workflows,
		clock:            clockwork.NewRealClock(),
		pollInterval:     defaultPollInterval,
		pollTimeout:      defaultPollTimeout,
		transportRetries: defaultTransportRetries,
		retryBackoff:     defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full lifecycle for one change set. The returned
// error is non-nil only for outcomes needing intervention: setup
// failures that may have left a branch behind, a failed rollback
// deletion, or a merge refused after green checks (ErrMergeFailed).
// ABORTED with clean state and ROLLED_BACK are normal outcomes.
func (o *Orchestrator) Run(ctx context.Context, changes changeset.Set, patch changeset.FilePatch) (*Outcome, error) {
	if len(o.workflows) == 0 {
		return nil, &OrchestrationError{Reason: "required workflow set is empty"}
	}
	if len(patch) == 0 {
		return nil, &OrchestrationError{Reason: "no file changes to apply"}
	}

	b := newBranchBuilder(o.client)
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("branch", b.name))
	log := clog.FromContext(ctx)

	out := &Outcome{State: StateInit, Branch: b.name}

	head, err := o.client.DefaultBranchHead(ctx)
	if err != nil {
		// Nothing was created yet, so there is nothing to clean up.
		log.Errorf("Failed to resolve default branch head: %v", err)
		out.State = StateAborted
		return out, nil
	}
	out.State = StateBranched

	branchSHA, err := b.createBranch(ctx, head.SHA)
	if err != nil {
		return o.abort(ctx, out, b, fmt.Errorf("creating branch: %w", err))
	}

	sha, err := b.updateBranchFiles(ctx, branchSHA, patch, changes.Summary(), changes.Description())
	if err != nil {
		return o.abort(ctx, out, b, fmt.Errorf("committing update: %w", err))
	}
	out.CommitSHA = sha
	out.State = StateCommitted

	base := strings.TrimPrefix(head.Name, "refs/heads/")
	number, err := o.client.CreatePullRequest(ctx, b.name, base, changes.Summary(), changes.Description())
	if err != nil {
		return o.abort(ctx, out, b, fmt.Errorf("opening pull request: %w", err))
	}
	out.PullRequest = number
	out.State = StatePROpen

	log.With("pull_request", number).Infof("Waiting for workflows: %s", strings.Join(o.workflows, ", "))
	unsatisfied, err := o.waitForChecks(ctx, sha)
	if err != nil {
		// Cancelled mid-run: branch and PR stay as-is, a re-run uses a
		// fresh branch.
		return out, err
	}

	if len(unsatisfied) == 0 {
		out.State = StateChecksPassed
		if err := o.client.MergePullRequest(ctx, number, changes.Summary()); err != nil {
			log.Errorf("Failed to merge pull request %d: %v", number, err)
			return out, fmt.Errorf("%w: pull request %d: %w", ErrMergeFailed, number, err)
		}
		out.State = StateMerged
		log.Infof("Merged pull request %d", number)
		return out, nil
	}

	out.State = StateChecksFailed
	out.FailedWorkflows = unsatisfied
	return o.rollback(ctx, out, b)
}

// abort handles setup failures: the branch ref may or may not exist, so
// deletion is attempted best-effort before surfacing the cause.
func (o *Orchestrator) abort(ctx context.Context, out *Outcome, b *branchBuilder, cause error) (*Outcome, error) {
	log := clog.FromContext(ctx)
	log.Errorf("Aborting run: %v", cause)

	if err := o.client.DeleteRef(ctx, b.ref()); err != nil {
		log.Warnf("Best-effort branch cleanup failed: %v", err)
	}
	out.State = StateAborted
	return out, cause
}

// rollback posts the diagnostic comment and deletes the branch. The
// comment is advisory; branch deletion is the step that must not be
// skipped, since a stale branch is the worse outcome.
func (o *Orchestrator) rollback(ctx context.Context, out *Outcome, b *branchBuilder) (*Outcome, error) {
	log := clog.FromContext(ctx)
	log.With(
		"pull_request", out.PullRequest,
		"workflows", out.FailedWorkflows,
	).Info("Rolling back failed update")

	comment := fmt.Sprintf("Expected workflow (%s) failed", strings.Join(out.FailedWorkflows, ", "))
	if err := o.client.CreateComment(ctx, out.PullRequest, comment); err != nil {
		log.Warnf("Failed to post rollback comment: %v", err)
	}

	if err := o.client.DeleteRef(ctx, b.ref()); err != nil {
		return out, fmt.Errorf("deleting branch %s during rollback: %w", b.name, err)
	}
	out.State = StateRolledBack
	return out, nil
}

// waitForChecks polls until every required workflow reaches a terminal
// status, a required workflow fails, or the timeout elapses. It returns
// the required names that did not succeed, empty meaning all passed.
// The only error returned is context cancellation; sustained inability
// to query status is reported as everything-unsatisfied, so a run can
// never merge on unknown state.
func (o *Orchestrator) waitForChecks(ctx context.Context, sha string) ([]string, error) {
	log := clog.FromContext(ctx)
	deadline := o.clock.Now().Add(o.pollTimeout)
	retries := 0

	for {
		runs, err := o.client.ListCheckRuns(ctx, sha)
		if err != nil {
			var te *gh.TransportError
			if errors.As(err, &te) && retries < o.transportRetries {
				retries++
				backoff := o.retryBackoff * (1 << (retries - 1))
				log.Warnf("Transient failure listing check runs (attempt %d/%d), retrying in %v: %v",
					retries, o.transportRetries, backoff, err)
				if err := o.sleep(ctx, backoff); err != nil {
					return nil, err
				}
				continue
			}
			log.Errorf("Giving up querying check runs: %v", err)
			return append([]string(nil), o.workflows...), nil
		}
		retries = 0

		states := evaluateChecks(o.workflows, runs)

		var unsatisfied []string
		failed, pending := false, false
		for _, name := range o.workflows {
			switch states[name] {
			case checkSuccess:
			case checkFailure:
				failed = true
				unsatisfied = append(unsatisfied, name)
			default:
				pending = true
				unsatisfied = append(unsatisfied, name)
			}
		}

		switch {
		case failed:
			log.With("workflows", unsatisfied).Info("Required workflow failed")
			return unsatisfied, nil
		case !pending:
			log.Info("All required workflows succeeded")
			return nil, nil
		case !o.clock.Now().Before(deadline):
			log.With("workflows", unsatisfied).Warn("Timed out waiting for required workflows")
			return unsatisfied, nil
		}

		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(d):
		return nil
	}
}
