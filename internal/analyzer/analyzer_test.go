package analyzer

import (
	"testing"

	"github.com/solo-git/sologit/internal/testrun"
)

func TestAnalyze_PanicCategory(t *testing.T) {
	outcome := testrun.TestOutcome{
		Name:    "unit",
		Verdict: testrun.VerdictFail,
		Stderr:  "panic: runtime error: index out of range [3] with length 2\n\tmain.go:12",
	}
	r := Analyze(outcome)
	if r.Category != CategoryPanic {
		t.Errorf("expected panic category, got %q", r.Category)
	}
	if len(r.Patterns) != 1 {
		t.Fatalf("expected 1 extracted pattern, got %d: %+v", len(r.Patterns), r.Patterns)
	}
	if r.Patterns[0].File != "main.go" || r.Patterns[0].Line != 12 {
		t.Errorf("unexpected pattern: %+v", r.Patterns[0])
	}
}

func TestAnalyze_TimeoutCategory(t *testing.T) {
	outcome := testrun.TestOutcome{
		Name:    "slow",
		Verdict: testrun.VerdictError,
		Stdout:  "test timed out after 30s",
	}
	r := Analyze(outcome)
	if r.Category != CategoryTimeout {
		t.Errorf("expected timeout category, got %q", r.Category)
	}
}

func TestAnalyze_AssertionCategory(t *testing.T) {
	outcome := testrun.TestOutcome{
		Name:    "math",
		Verdict: testrun.VerdictFail,
		Stdout:  "assert.go:50: expected 4 but got 5",
	}
	r := Analyze(outcome)
	if r.Category != CategoryAssertion {
		t.Errorf("expected assertion category, got %q", r.Category)
	}
}

func TestAnalyze_PassedProducesEmptyReport(t *testing.T) {
	outcome := testrun.TestOutcome{Name: "unit", Verdict: testrun.VerdictPass}
	r := Analyze(outcome)
	if r.Category != CategoryUnknown {
		t.Errorf("expected unknown category for a passing test, got %q", r.Category)
	}
	if len(r.Patterns) != 0 {
		t.Errorf("expected no patterns for a passing test, got %+v", r.Patterns)
	}
}

func TestAnalyze_ComplexityOrdering(t *testing.T) {
	panicReport := Analyze(testrun.TestOutcome{Name: "p", Verdict: testrun.VerdictFail, Stderr: "panic: boom"})
	timeoutReport := Analyze(testrun.TestOutcome{Name: "t", Verdict: testrun.VerdictFail, Stderr: "deadline exceeded"})
	if panicReport.Complexity >= timeoutReport.Complexity {
		t.Errorf("expected panic (%d) to score below timeout (%d)", panicReport.Complexity, timeoutReport.Complexity)
	}
}

func TestMergePatterns_SortsByFileThenLine(t *testing.T) {
	reports := []Report{
		{Patterns: []Pattern{{File: "b.go", Line: 5}, {File: "a.go", Line: 20}}},
		{Patterns: []Pattern{{File: "a.go", Line: 3}}},
	}
	merged := MergePatterns(reports)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged patterns, got %d", len(merged))
	}
	if merged[0].File != "a.go" || merged[0].Line != 3 {
		t.Errorf("expected a.go:3 first, got %+v", merged[0])
	}
	if merged[1].File != "a.go" || merged[1].Line != 20 {
		t.Errorf("expected a.go:20 second, got %+v", merged[1])
	}
	if merged[2].File != "b.go" {
		t.Errorf("expected b.go last, got %+v", merged[2])
	}
}
