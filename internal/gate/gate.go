// Package gate decides whether a workpad's test run is good enough to
// promote to trunk automatically, needs a human, or is rejected outright,
// weighing test outcome, failure category, and diff size against a rule
// table.
package gate

import (
	"github.com/solo-git/sologit/internal/analyzer"
	"github.com/solo-git/sologit/internal/testrun"
)

// Decision is the gate's verdict on a test run.
type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionReject      Decision = "reject"
	DecisionManualReview Decision = "manual_review"
)

// Rule is one entry in the gate's decision table, evaluated in order; the
// first rule whose Match returns true determines the outcome.
type Rule struct {
	Name   string
	Match  func(Input) bool
	Result Decision
	Reason string
}

// Input is everything the gate needs to evaluate a workpad's test run.
type Input struct {
	Summary      testrun.Summary
	Reports      []analyzer.Report
	DiffLines    int // total added+removed lines in the workpad's diff
	MaxDiffLines int // size threshold beyond which large changes get manual review
}

// Result is the gate's structured verdict, mirroring GateResult's shape:
// a decision plus the evidence behind it.
type Result struct {
	Decision   Decision
	Reason     string
	RuleName   string
	Categories []analyzer.Category
}

func defaultRules() []Rule {
	return []Rule{
		{
			Name: "all_passed",
			Match: func(in Input) bool {
				return in.Summary.Failed == 0 && in.Summary.Errored == 0 &&
					!(in.MaxDiffLines > 0 && in.DiffLines > in.MaxDiffLines)
			},
			Result: DecisionApprove,
			Reason: "all tests passed",
		},
		{
			Name: "oversized_diff",
			Match: func(in Input) bool {
				return in.MaxDiffLines > 0 && in.DiffLines > in.MaxDiffLines
			},
			Result: DecisionManualReview,
			Reason: "diff exceeds the size threshold for automatic promotion",
		},
		{
			Name: "dependency_or_timeout_failure",
			Match: func(in Input) bool {
				for _, r := range in.Reports {
					if r.Category == analyzer.CategoryDependency || r.Category == analyzer.CategoryTimeout {
						return true
					}
				}
				return false
			},
			Result: DecisionManualReview,
			Reason: "failure category suggests environment flakiness rather than a code defect",
		},
		{
			Name:   "clear_failure",
			Match:  func(in Input) bool { return in.Summary.Failed > 0 || in.Summary.Errored > 0 },
			Result: DecisionReject,
			Reason: "one or more tests failed",
		},
	}
}

// Gate evaluates test run inputs against a rule table.
type Gate struct {
	rules []Rule
}

// New builds a Gate with the default rule table.
func New() *Gate { return &Gate{rules: defaultRules()} }

// NewWithRules builds a Gate with a custom rule table — used by tests and by
// callers who want a stricter or looser promotion policy.
func NewWithRules(rules []Rule) *Gate { return &Gate{rules: rules} }

// Evaluate runs the rule table against in, returning the first matching rule's verdict.
func (g *Gate) Evaluate(in Input) Result {
	categories := make([]analyzer.Category, 0, len(in.Reports))
	seen := make(map[analyzer.Category]bool)
	for _, r := range in.Reports {
		if r.Category != analyzer.CategoryUnknown && !seen[r.Category] {
			seen[r.Category] = true
			categories = append(categories, r.Category)
		}
	}

	for _, rule := range g.rules {
		if rule.Match(in) {
			return Result{Decision: rule.Result, Reason: rule.Reason, RuleName: rule.Name, Categories: categories}
		}
	}
	return Result{Decision: DecisionManualReview, Reason: "no rule matched", RuleName: "fallback", Categories: categories}
}
