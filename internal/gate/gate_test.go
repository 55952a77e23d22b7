package gate

import (
	"testing"

	"github.com/solo-git/sologit/internal/analyzer"
	"github.com/solo-git/sologit/internal/testrun"
)

func TestGate_ApprovesWhenAllTestsPass(t *testing.T) {
	g := New()
	result := g.Evaluate(Input{
		Summary:   testrun.Summary{Total: 3, Passed: 3},
		DiffLines: 40, MaxDiffLines: 500,
	})
	if result.Decision != DecisionApprove {
		t.Fatalf("expected approve, got %s (%s)", result.Decision, result.Reason)
	}
}

func TestGate_RejectsOnClearFailure(t *testing.T) {
	g := New()
	result := g.Evaluate(Input{
		Summary: testrun.Summary{Total: 3, Passed: 2, Failed: 1},
		Reports: []analyzer.Report{{Category: analyzer.CategoryAssertion}},
	})
	if result.Decision != DecisionReject {
		t.Fatalf("expected reject, got %s (%s)", result.Decision, result.Reason)
	}
}

func TestGate_ManualReviewOnOversizedDiff(t *testing.T) {
	g := New()
	result := g.Evaluate(Input{
		Summary:      testrun.Summary{Total: 2, Passed: 2},
		DiffLines:    1200,
		MaxDiffLines: 500,
	})
	if result.Decision != DecisionManualReview {
		t.Fatalf("expected manual_review, got %s (%s)", result.Decision, result.Reason)
	}
}

func TestGate_ManualReviewOnFlakyCategory(t *testing.T) {
	g := New()
	result := g.Evaluate(Input{
		Summary: testrun.Summary{Total: 2, Passed: 1, Errored: 1},
		Reports: []analyzer.Report{{Category: analyzer.CategoryTimeout}},
	})
	if result.Decision != DecisionManualReview {
		t.Fatalf("expected manual_review, got %s (%s)", result.Decision, result.Reason)
	}
	if result.RuleName != "dependency_or_timeout_failure" {
		t.Errorf("expected dependency_or_timeout_failure rule, got %s", result.RuleName)
	}
}

func TestGate_CustomRuleTable(t *testing.T) {
	g := NewWithRules([]Rule{
		{Name: "always_manual", Match: func(Input) bool { return true }, Result: DecisionManualReview, Reason: "strict policy"},
	})
	result := g.Evaluate(Input{Summary: testrun.Summary{Total: 1, Passed: 1}})
	if result.Decision != DecisionManualReview {
		t.Fatalf("expected manual_review from custom rule table, got %s", result.Decision)
	}
}
