// Package automerge composes the git engine, test orchestrator, analyzer,
// and promotion gate into the single "run tests, decide, promote" sequence
// a workpad goes through on every save: a struct holding every collaborator
// it needs, with one top-level Run method driving them in sequence and a
// progress writer for a human-readable transcript.
package automerge

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/solo-git/sologit/internal/analyzer"
	"github.com/solo-git/sologit/internal/gate"
	"github.com/solo-git/sologit/internal/gitengine"
	"github.com/solo-git/sologit/internal/logging"
	"github.com/solo-git/sologit/internal/state"
	"github.com/solo-git/sologit/internal/testrun"
)

// CIRunner is the post-promotion step a Workflow delegates to — implemented
// by internal/ci.Orchestrator. Declared here (not imported from ci) so ci
// can depend on automerge's types without a cycle forming.
type CIRunner interface {
	RunAfterPromotion(ctx context.Context, repoID string) (CIOutcome, error)
}

// CIOutcome is what a CIRunner reports back about the post-promotion run.
type CIOutcome struct {
	Status       string // "success", "unstable", "failure"
	RolledBack   bool
	FixWorkpadID string
}

// Options configures one Workflow instance.
type Options struct {
	Engine      *gitengine.Engine
	State       *state.Manager
	Gate        *gate.Gate
	CI          CIRunner // optional; nil disables the post-promotion CI step
	Specs       []testrun.Spec
	TestWorkDir func(padID string) string // resolves a workpad's checkout dir for test execution
	LogDir      string
	ParallelN   int
	MaxDiffLines int
	PromoteOnGreen bool
	Progress    io.Writer
}

// Workflow drives one workpad through test → analyze → gate → promote → CI.
type Workflow struct {
	opts Options
	log  zerolog.Logger
}

// New builds a Workflow from Options.
func New(opts Options) *Workflow {
	return &Workflow{opts: opts, log: logging.For("automerge")}
}

func (w *Workflow) logf(format string, args ...interface{}) {
	if w.opts.Progress != nil {
		fmt.Fprintf(w.opts.Progress, "  → "+format+"\n", args...)
	}
}

// Outcome is the end-to-end result of running a workpad through the workflow.
type Outcome struct {
	TestSummary testrun.Summary
	GateResult  gate.Result
	Promoted    bool
	NewTrunkHead string
	CI          *CIOutcome
}

// Run executes the full sequence for one workpad: open a test run, execute
// the configured Specs, analyze failures, evaluate the gate, promote on
// approval, trigger CI, and record everything to the state manager — the
// ten logical steps (test → per-test persist → finalize → analyze →
// diff-size → gate → promote-or-reject → state update → CI → rollback)
// collapsed into one call. An error part-way through is returned at once:
// records written by earlier steps stay in place and later steps do not run.
func (w *Workflow) Run(ctx context.Context, padID string) (Outcome, error) {
	pad, err := w.opts.Engine.GetWorkpad(padID)
	if err != nil {
		return Outcome{}, fmt.Errorf("automerge: %w", err)
	}

	w.logf("starting test run for workpad %s", padID)
	run, err := w.opts.State.OpenTestRun(ctx, padID, pad.Title)
	if err != nil {
		return Outcome{}, fmt.Errorf("automerge: open test run: %w", err)
	}

	workDir := padID
	if w.opts.TestWorkDir != nil {
		workDir = w.opts.TestWorkDir(padID)
	}

	orch := testrun.NewOrchestrator(testrun.Options{
		WorkDir:   workDir,
		LogDir:    w.opts.LogDir,
		ParallelN: w.opts.ParallelN,
	})
	summary, err := orch.Run(ctx, w.opts.Specs)
	if err != nil {
		if _, ferr := w.opts.State.FinalizeTestRun(ctx, run.ID, state.TestFailed, nil); ferr != nil {
			w.log.Warn().Err(ferr).Msg("failed to finalize test run after orchestrator error")
		}
		return Outcome{}, fmt.Errorf("automerge: run tests: %w", err)
	}
	w.logf("tests finished: %d passed, %d failed, %d errored, %d skipped",
		summary.Passed, summary.Failed, summary.Errored, summary.Skipped)

	results := make([]state.TestResult, 0, len(summary.Outcomes))
	var reports []analyzer.Report
	overallStatus := state.TestPassed
	for _, o := range summary.Outcomes {
		status := verdictToStatus(o.Verdict)
		results = append(results, state.TestResult{
			Name: o.Name, Status: status, ExitCode: o.ExitCode,
			DurationMs: o.DurationMs, Stdout: o.Stdout, Stderr: o.Stderr, LogPath: o.LogPath,
		})
		if o.Verdict == testrun.VerdictFail || o.Verdict == testrun.VerdictError {
			reports = append(reports, analyzer.Analyze(o))
			overallStatus = state.TestFailed
		}
	}
	if _, err := w.opts.State.FinalizeTestRun(ctx, run.ID, overallStatus, results); err != nil {
		return Outcome{}, fmt.Errorf("automerge: finalize test run: %w", err)
	}

	diff, err := w.opts.Engine.GetDiff(ctx, padID)
	if err != nil {
		return Outcome{}, fmt.Errorf("automerge: diff workpad: %w", err)
	}
	diffLines := 0
	for _, line := range strings.Split(diff, "\n") {
		if (strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++")) ||
			(strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---")) {
			diffLines++
		}
	}

	gateResult := w.opts.Gate.Evaluate(gate.Input{
		Summary: summary, Reports: reports,
		DiffLines: diffLines, MaxDiffLines: w.opts.MaxDiffLines,
	})
	w.logf("gate decision: %s (%s)", gateResult.Decision, gateResult.Reason)

	outcome := Outcome{TestSummary: summary, GateResult: gateResult}

	promotionOpts := state.RecordPromotionDecisionOpts{
		WorkpadID: padID, RepoID: pad.RepoID, TestRunID: run.ID,
		Decision: gateDecisionToState(gateResult.Decision), Message: gateResult.Reason,
		CanPromote: gateResult.Decision == gate.DecisionApprove,
	}

	if gateResult.Decision != gate.DecisionApprove || !w.opts.PromoteOnGreen {
		if _, err := w.opts.State.RecordPromotionDecision(ctx, promotionOpts); err != nil {
			return outcome, fmt.Errorf("automerge: record promotion decision: %w", err)
		}
		return outcome, nil
	}

	promotionOpts.AutoPromote = true
	newHead, err := w.opts.Engine.PromoteWorkpad(ctx, padID)
	if err != nil {
		promotionOpts.Decision = state.DecisionReject
		promotionOpts.Message = fmt.Sprintf("promotion failed: %v", err)
		w.opts.State.RecordPromotionDecision(ctx, promotionOpts)
		return outcome, fmt.Errorf("automerge: promote workpad: %w", err)
	}
	w.logf("promoted workpad %s to trunk at %s", padID, newHead)
	outcome.Promoted = true
	outcome.NewTrunkHead = newHead
	promotionOpts.Promoted = true
	promotionOpts.PromotedCommit = newHead

	if _, err := w.opts.State.RecordPromotionDecision(ctx, promotionOpts); err != nil {
		return outcome, fmt.Errorf("automerge: record promotion decision: %w", err)
	}
	if _, err := w.opts.State.MarkPromoted(ctx, padID, newHead); err != nil {
		return outcome, fmt.Errorf("automerge: mark workpad promoted: %w", err)
	}

	if w.opts.CI != nil {
		ciOutcome, err := w.opts.CI.RunAfterPromotion(ctx, pad.RepoID)
		if err != nil {
			w.log.Error().Err(err).Msg("post-promotion CI failed to run")
			return outcome, fmt.Errorf("automerge: post-promotion CI: %w", err)
		}
		outcome.CI = &ciOutcome
		w.logf("post-promotion CI: %s (rolled back=%v)", ciOutcome.Status, ciOutcome.RolledBack)
	}

	return outcome, nil
}

func verdictToStatus(v testrun.Verdict) state.TestStatus {
	switch v {
	case testrun.VerdictPass:
		return state.TestPassed
	case testrun.VerdictFail:
		return state.TestFailed
	case testrun.VerdictError:
		return state.TestError
	default:
		return state.TestSkipped
	}
}

func gateDecisionToState(d gate.Decision) state.PromotionDecision {
	switch d {
	case gate.DecisionApprove:
		return state.DecisionApprove
	case gate.DecisionReject:
		return state.DecisionReject
	default:
		return state.DecisionManualReview
	}
}
