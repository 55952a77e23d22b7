package automerge

import (
	"context"
	"os/exec"
	"testing"

	"github.com/solo-git/sologit/internal/gate"
	"github.com/solo-git/sologit/internal/gitengine"
	"github.com/solo-git/sologit/internal/state"
	"github.com/solo-git/sologit/internal/testrun"
)

func skipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// fakeCI records whether it was invoked and returns a canned outcome.
type fakeCI struct {
	called  bool
	outcome CIOutcome
	err     error
}

func (f *fakeCI) RunAfterPromotion(ctx context.Context, repoID string) (CIOutcome, error) {
	f.called = true
	return f.outcome, f.err
}

func setupWorkflow(t *testing.T, specs []testrun.Spec, promoteOnGreen bool, ci CIRunner) (*Workflow, *gitengine.Engine, *state.Manager, string) {
	t.Helper()
	skipIfNoGit(t)
	ctx := context.Background()

	eng, err := gitengine.New(t.TempDir(), &gitengine.ExecGit{})
	if err != nil {
		t.Fatalf("gitengine.New: %v", err)
	}
	repo, err := eng.CreateEmptyRepo(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateEmptyRepo: %v", err)
	}
	pad, err := eng.CreateWorkpad(ctx, repo.ID, "feature")
	if err != nil {
		t.Fatalf("CreateWorkpad: %v", err)
	}

	mgr := state.NewManager(state.NewMemBackend())
	if _, err := mgr.CreateRepository(ctx, repo.ID, repo.Name, repo.Path, repo.TrunkBranch, state.SourceEmpty); err != nil {
		t.Fatalf("state.CreateRepository: %v", err)
	}
	if _, err := mgr.CreateWorkpad(ctx, pad.ID, repo.ID, pad.Title, pad.Branch, pad.BaseCommit); err != nil {
		t.Fatalf("state.CreateWorkpad: %v", err)
	}

	wf := New(Options{
		Engine: eng, State: mgr, Gate: gate.New(), CI: ci,
		Specs:          specs,
		TestWorkDir:    func(string) string { return repo.Path },
		ParallelN:      2,
		MaxDiffLines:   1000,
		PromoteOnGreen: promoteOnGreen,
	})
	return wf, eng, mgr, pad.ID
}

func TestWorkflow_ApprovesAndPromotesOnAllGreen(t *testing.T) {
	specs := []testrun.Spec{{Name: "unit", Command: "true"}}
	ci := &fakeCI{outcome: CIOutcome{Status: "success"}}
	wf, eng, mgr, padID := setupWorkflow(t, specs, true, ci)

	patch := "diff --git a/a.txt b/a.txt\n" +
		"new file mode 100644\n" +
		"index 0000000..7898192\n" +
		"--- /dev/null\n" +
		"+++ b/a.txt\n" +
		"@@ -0,0 +1 @@\n" +
		"+a\n"
	if _, err := eng.ApplyPatch(context.Background(), padID, patch, "add a"); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	outcome, err := wf.Run(context.Background(), padID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.GateResult.Decision != gate.DecisionApprove {
		t.Fatalf("expected approve, got %s", outcome.GateResult.Decision)
	}
	if !outcome.Promoted {
		t.Fatal("expected workpad to be promoted")
	}
	if !ci.called {
		t.Error("expected CI to run after promotion")
	}

	pad, err := mgr.GetWorkpad(context.Background(), padID)
	if err != nil {
		t.Fatalf("GetWorkpad: %v", err)
	}
	if pad.Status != state.WorkpadPromoted {
		t.Errorf("expected state workpad status promoted, got %s", pad.Status)
	}
}

func TestWorkflow_RejectsOnFailingTest(t *testing.T) {
	specs := []testrun.Spec{{Name: "unit", Command: "false"}}
	wf, _, _, padID := setupWorkflow(t, specs, true, nil)

	outcome, err := wf.Run(context.Background(), padID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.GateResult.Decision != gate.DecisionReject {
		t.Fatalf("expected reject, got %s", outcome.GateResult.Decision)
	}
	if outcome.Promoted {
		t.Fatal("expected no promotion on rejected gate")
	}
}

func TestWorkflow_DoesNotPromoteWhenPromoteOnGreenDisabled(t *testing.T) {
	specs := []testrun.Spec{{Name: "unit", Command: "true"}}
	wf, _, _, padID := setupWorkflow(t, specs, false, nil)

	outcome, err := wf.Run(context.Background(), padID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.GateResult.Decision != gate.DecisionApprove {
		t.Fatalf("expected approve decision regardless, got %s", outcome.GateResult.Decision)
	}
	if outcome.Promoted {
		t.Fatal("expected no promotion when promote_on_green is disabled")
	}
}
