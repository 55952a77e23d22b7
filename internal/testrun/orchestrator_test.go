package testrun

import (
	"context"
	"testing"
)

// fakeExecutor maps a test name to a canned outcome, for orchestrator tests
// that shouldn't shell out to a real subprocess.
type fakeExecutor struct {
	verdicts map[string]Verdict
}

func (f *fakeExecutor) Execute(ctx context.Context, spec Spec, dir string, onLine func(OutputLine)) TestOutcome {
	v, ok := f.verdicts[spec.Name]
	if !ok {
		v = VerdictPass
	}
	if onLine != nil {
		onLine(OutputLine{Test: spec.Name, Stream: "stdout", Line: "running " + spec.Name})
	}
	exit := 0
	if v == VerdictFail {
		exit = 1
	}
	return TestOutcome{Name: spec.Name, Verdict: v, ExitCode: exit}
}

func TestOrchestrator_RunsIndependentTestsAndSkipsBlocked(t *testing.T) {
	specs := []Spec{
		{Name: "unit"},
		{Name: "lint"},
		{Name: "integration", DependsOn: []string{"unit"}},
	}
	orch := NewOrchestrator(Options{
		Subprocess: &fakeExecutor{verdicts: map[string]Verdict{"unit": VerdictFail}},
	})

	summary, err := orch.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 3 {
		t.Fatalf("expected 3 total outcomes, got %d", summary.Total)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", summary.Failed)
	}
	if summary.Skipped != 1 {
		t.Errorf("expected 1 skipped (integration), got %d", summary.Skipped)
	}

	var sawIntegrationSkipped bool
	for _, o := range summary.Outcomes {
		if o.Name == "integration" {
			sawIntegrationSkipped = o.Verdict == VerdictSkipped
		}
	}
	if !sawIntegrationSkipped {
		t.Error("expected integration to be skipped since unit failed")
	}
}

func TestOrchestrator_AllPass(t *testing.T) {
	specs := []Spec{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
	}
	orch := NewOrchestrator(Options{Subprocess: &fakeExecutor{verdicts: map[string]Verdict{}}})

	summary, err := orch.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Passed != 3 {
		t.Fatalf("expected all 3 to pass, got %d passed (%+v)", summary.Passed, summary)
	}
}

func TestOrchestrator_StreamsOutputLines(t *testing.T) {
	var lines []OutputLine
	orch := NewOrchestrator(Options{
		Subprocess: &fakeExecutor{},
		OnLine:     func(l OutputLine) { lines = append(lines, l) },
	})

	_, err := orch.Run(context.Background(), []Spec{{Name: "solo"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lines) != 1 || lines[0].Test != "solo" {
		t.Fatalf("expected 1 streamed line for solo, got %+v", lines)
	}
}
