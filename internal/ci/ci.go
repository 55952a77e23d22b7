// Package ci runs post-promotion smoke tests against trunk and, on a red
// build, rolls the commit back and opens a fix workpad. A disposable
// workpad stands in for "trunk at its current tip" since the test
// orchestrator only knows how to run tests against a workpad checkout.
package ci

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/solo-git/sologit/internal/automerge"
	"github.com/solo-git/sologit/internal/gitengine"
	"github.com/solo-git/sologit/internal/logging"
	"github.com/solo-git/sologit/internal/state"
	"github.com/solo-git/sologit/internal/testrun"
)

// Status mirrors state.CIStatus for the orchestrator's own result type.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusUnstable Status = "unstable"
)

// Result is the outcome of one smoke-test run against trunk.
type Result struct {
	RepoID     string
	CommitHash string
	Status     Status
	DurationMs int64
	Summary    testrun.Summary
	Message    string
}

func (r Result) IsGreen() bool { return r.Status == StatusSuccess }
func (r Result) IsRed() bool   { return r.Status == StatusFailure || r.Status == StatusUnstable }

// Options configures an Orchestrator.
type Options struct {
	Engine          *gitengine.Engine
	State           *state.Manager
	SmokeTests      []testrun.Spec
	RollbackOnRed   bool
	RecreateWorkpad bool
	WebhookURL      string
	WebhookTimeout  time.Duration
}

// Orchestrator runs post-promotion smoke tests and, configured to, rolls
// back a red trunk — composing gitengine.Engine and testrun.Orchestrator the
// way ci_orchestrator.py's CIOrchestrator composes GitEngine and
// TestOrchestrator.
type Orchestrator struct {
	opts   Options
	client *http.Client
	log    zerolog.Logger
}

// New builds an Orchestrator satisfying automerge.CIRunner.
func New(opts Options) *Orchestrator {
	timeout := opts.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{opts: opts, client: &http.Client{Timeout: timeout}, log: logging.For("ci")}
}

// RunAfterPromotion runs the configured smoke tests against a repo's current
// trunk tip and, if they go red and rollback is enabled, reverts the
// offending commit and opens a fix workpad. Implements automerge.CIRunner.
func (o *Orchestrator) RunAfterPromotion(ctx context.Context, repoID string) (automerge.CIOutcome, error) {
	result, err := o.runSmokeTests(ctx, repoID)
	if err != nil {
		return automerge.CIOutcome{}, err
	}
	o.notifyWebhook(ctx, result)

	outcome := automerge.CIOutcome{Status: string(result.Status)}
	if !result.IsRed() || !o.opts.RollbackOnRed {
		return outcome, nil
	}

	rb, err := o.Rollback(ctx, result)
	if err != nil {
		return outcome, fmt.Errorf("ci: rollback: %w", err)
	}
	outcome.RolledBack = rb.Success
	outcome.FixWorkpadID = rb.NewWorkpadID
	return outcome, nil
}

// runSmokeTests executes SmokeTests against a disposable workpad rooted at
// trunk's tip — the same "temp workpad stands in for trunk" technique the
// original CIOrchestrator uses, since the test orchestrator only knows how
// to run against a workpad checkout.
func (o *Orchestrator) runSmokeTests(ctx context.Context, repoID string) (Result, error) {
	history, err := o.opts.Engine.GetHistory(ctx, repoID, 1)
	if err != nil {
		return Result{}, fmt.Errorf("ci: read trunk history: %w", err)
	}
	if len(history) == 0 {
		return Result{RepoID: repoID, Status: StatusFailure, Message: "no commits found in repository"}, nil
	}
	commitHash := history[0].Hash

	start := time.Now()
	tempPad, err := o.opts.Engine.CreateWorkpad(ctx, repoID, "ci-smoke-"+shortHash(commitHash))
	if err != nil {
		return Result{RepoID: repoID, CommitHash: commitHash, Status: StatusFailure, Message: err.Error()}, nil
	}
	defer o.opts.Engine.DeleteWorkpad(ctx, tempPad.ID)

	repo, err := o.opts.Engine.GetRepository(repoID)
	if err != nil {
		return Result{}, fmt.Errorf("ci: get repository: %w", err)
	}

	orch := testrun.NewOrchestrator(testrun.Options{WorkDir: repo.Path, ParallelN: 0})
	summary, err := orch.Run(ctx, o.opts.SmokeTests)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return Result{RepoID: repoID, CommitHash: commitHash, Status: StatusFailure, DurationMs: duration, Message: err.Error()}, nil
	}

	status := StatusSuccess
	message := "all smoke tests passed"
	switch {
	case summary.Failed == 0 && summary.Errored == 0:
		status, message = StatusSuccess, "all smoke tests passed"
	case summary.Errored > 0 && summary.Failed == 0:
		status, message = StatusUnstable, fmt.Sprintf("%d tests errored (possible flakiness)", summary.Errored)
	default:
		status, message = StatusFailure, fmt.Sprintf("%d tests failed", summary.Failed)
	}

	return Result{
		RepoID: repoID, CommitHash: commitHash, Status: status,
		DurationMs: duration, Summary: summary, Message: message,
	}, nil
}

// RollbackResult is the outcome of reverting a red trunk commit.
type RollbackResult struct {
	Success        bool
	RevertedCommit string
	NewWorkpadID   string
	Message        string
}

// Rollback reverts a red result's commit on trunk and, if configured,
// recreates a fix-ci-<shorthash> workpad for the developer to continue from.
func (o *Orchestrator) Rollback(ctx context.Context, result Result) (RollbackResult, error) {
	if !result.IsRed() {
		return RollbackResult{Success: true, RevertedCommit: result.CommitHash, Message: "CI passed - no rollback needed"}, nil
	}

	revertedHead, err := o.opts.Engine.RevertLastCommit(ctx, result.RepoID)
	if err != nil {
		return RollbackResult{Success: false, RevertedCommit: result.CommitHash, Message: fmt.Sprintf("rollback failed: %v", err)}, nil
	}
	o.log.Info().Str("repo_id", result.RepoID).Str("reverted_to", revertedHead).Msg("trunk commit reverted after red CI")

	rb := RollbackResult{Success: true, RevertedCommit: result.CommitHash}
	if o.opts.RecreateWorkpad {
		title := "fix-ci-" + shortHash(result.CommitHash)
		pad, err := o.opts.Engine.CreateWorkpad(ctx, result.RepoID, title)
		if err != nil {
			o.log.Warn().Err(err).Msg("rollback succeeded but fix workpad creation failed")
			rb.Message = fmt.Sprintf("rolled back commit %s; fix workpad creation failed: %v", shortHash(result.CommitHash), err)
			return rb, nil
		}
		rb.NewWorkpadID = pad.ID
		rb.Message = fmt.Sprintf("rolled back commit %s; created workpad %s for fixes", shortHash(result.CommitHash), pad.ID)
	} else {
		rb.Message = fmt.Sprintf("rolled back commit %s", shortHash(result.CommitHash))
	}
	return rb, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
