// Package analyzer classifies failing test output into a closed set of
// categories and extracts file:line locations, so the promotion gate can
// reason about "why" a run went red instead of just "it went red".
package analyzer

import (
	"regexp"
	"sort"

	"github.com/solo-git/sologit/internal/testrun"
)

// Category is a closed enum of failure kinds — closed the same way
// internal/checks' per-tool parsers each produce one shape of finding, here
// generalized into a single cross-tool taxonomy.
type Category string

const (
	CategoryAssertion Category = "assertion"
	CategoryTimeout    Category = "timeout"
	CategoryPanic      Category = "panic"
	CategoryCompile    Category = "compile_error"
	CategoryDependency Category = "dependency_error"
	CategoryUnknown    Category = "unknown"
)

// Pattern is one extracted failure location within a test's output.
type Pattern struct {
	Category Category
	Message  string
	File     string
	Line     int
}

// Report is the analyzer's verdict for one TestOutcome.
type Report struct {
	Test       string
	Category   Category
	Patterns   []Pattern
	Complexity int // rough 0-100 fix-difficulty heuristic
}

// classifier pairs a category with the ordered regexes that detect it.
// Order matters: the first matching classifier wins, mirroring
// internal/checks' per-parser-then-generic-fallback precedence.
type classifier struct {
	category Category
	patterns []*regexp.Regexp
}

var fileLineRe = regexp.MustCompile(`([\w./\\-]+\.\w+):(\d+)`)

var classifiers = []classifier{
	{
		category: CategoryPanic,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)panic:`),
			regexp.MustCompile(`(?i)segmentation fault`),
			regexp.MustCompile(`(?i)fatal error:`),
		},
	},
	{
		category: CategoryTimeout,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)timed? ?out`),
			regexp.MustCompile(`(?i)deadline exceeded`),
			regexp.MustCompile(`(?i)context\.deadlineexceeded`),
		},
	},
	{
		category: CategoryCompile,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)syntax error`),
			regexp.MustCompile(`(?i)undefined: `),
			regexp.MustCompile(`(?i)cannot find package`),
			regexp.MustCompile(`(?i)compile error`),
		},
	},
	{
		category: CategoryDependency,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)no such file or directory`),
			regexp.MustCompile(`(?i)module not found`),
			regexp.MustCompile(`(?i)connection refused`),
			regexp.MustCompile(`(?i)could not resolve`),
		},
	},
	{
		category: CategoryAssertion,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)assert`),
			regexp.MustCompile(`(?i)expected .* (got|but)`),
			regexp.MustCompile(`(?i)FAIL:`),
		},
	},
}

// Analyze classifies a single failed or errored TestOutcome. Passed and
// skipped outcomes produce an empty Report (category unknown, no patterns)
// since there is nothing to explain.
func Analyze(outcome testrun.TestOutcome) Report {
	report := Report{Test: outcome.Name, Category: CategoryUnknown}
	if outcome.Verdict != testrun.VerdictFail && outcome.Verdict != testrun.VerdictError {
		return report
	}

	combined := outcome.Stdout + "\n" + outcome.Stderr

	report.Category = classify(combined)
	report.Patterns = extractPatterns(report.Category, combined)
	report.Complexity = estimateComplexity(report)
	return report
}

func classify(output string) Category {
	for _, c := range classifiers {
		for _, re := range c.patterns {
			if re.MatchString(output) {
				return c.category
			}
		}
	}
	return CategoryUnknown
}

func extractPatterns(cat Category, output string) []Pattern {
	matches := fileLineRe.FindAllStringSubmatch(output, -1)
	seen := make(map[string]bool)
	var out []Pattern
	for _, m := range matches {
		key := m[1] + ":" + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Pattern{Category: cat, Message: m[0], File: m[1], Line: atoi(m[2])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// estimateComplexity is a rough heuristic: panics and compile errors are
// usually quick, localized fixes; dependency and timeout failures tend to
// need broader investigation; many distinct file locations raises the score.
func estimateComplexity(r Report) int {
	base := map[Category]int{
		CategoryPanic:      20,
		CategoryCompile:    25,
		CategoryAssertion:  35,
		CategoryDependency: 55,
		CategoryTimeout:    60,
		CategoryUnknown:    50,
	}[r.Category]

	spread := len(r.Patterns) * 5
	if spread > 40 {
		spread = 40
	}
	score := base + spread
	if score > 100 {
		score = 100
	}
	return score
}

// MergePatterns merges and sorts patterns from multiple reports — used when
// summarizing a whole run rather than a single test.
func MergePatterns(reports []Report) []Pattern {
	var all []Pattern
	for _, r := range reports {
		all = append(all, r.Patterns...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].File != all[j].File {
			return all[i].File < all[j].File
		}
		return all[i].Line < all[j].Line
	})
	return all
}
