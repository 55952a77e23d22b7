package gitsync

import (
	"context"
	"os/exec"
	"testing"

	"github.com/solo-git/sologit/internal/gitengine"
	"github.com/solo-git/sologit/internal/state"
)

func skipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func newTestSync(t *testing.T) *Sync {
	t.Helper()
	skipIfNoGit(t)
	eng, err := gitengine.New(t.TempDir(), &gitengine.ExecGit{})
	if err != nil {
		t.Fatalf("gitengine.New: %v", err)
	}
	mgr := state.NewManager(state.NewMemBackend())
	return New(eng, mgr)
}

func TestCreateEmptyRepo_SyncsStateAndActivatesContext(t *testing.T) {
	ctx := context.Background()
	s := newTestSync(t)

	repo, err := s.CreateEmptyRepo(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateEmptyRepo: %v", err)
	}

	stateRepo, err := s.State.GetRepository(ctx, repo.ID)
	if err != nil {
		t.Fatalf("state.GetRepository: %v", err)
	}
	if stateRepo.ID != repo.ID {
		t.Fatalf("expected state repo ID %s to match gitengine ID, got %s", repo.ID, stateRepo.ID)
	}

	gctx, err := s.GetActiveContext(ctx)
	if err != nil {
		t.Fatalf("GetActiveContext: %v", err)
	}
	if gctx.ActiveRepoID != repo.ID {
		t.Errorf("expected active repo to be %s, got %s", repo.ID, gctx.ActiveRepoID)
	}

	commits, err := s.State.GetCommits(ctx, repo.ID, 0)
	if err != nil {
		t.Fatalf("state.GetCommits: %v", err)
	}
	if len(commits) == 0 {
		t.Error("expected the initial empty commit to be synced into state")
	}
}

func TestCreateWorkpad_SyncsStateWithSameID(t *testing.T) {
	ctx := context.Background()
	s := newTestSync(t)

	repo, err := s.CreateEmptyRepo(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateEmptyRepo: %v", err)
	}
	pad, err := s.CreateWorkpad(ctx, repo.ID, "feature")
	if err != nil {
		t.Fatalf("CreateWorkpad: %v", err)
	}

	statePad, err := s.State.GetWorkpad(ctx, pad.ID)
	if err != nil {
		t.Fatalf("state.GetWorkpad: %v", err)
	}
	if statePad.ID != pad.ID || statePad.RepoID != repo.ID {
		t.Errorf("expected state workpad to mirror gitengine IDs, got %+v", statePad)
	}

	gctx, err := s.GetActiveContext(ctx)
	if err != nil {
		t.Fatalf("GetActiveContext: %v", err)
	}
	if gctx.ActiveWorkpadID != pad.ID {
		t.Errorf("expected active workpad to be %s, got %s", pad.ID, gctx.ActiveWorkpadID)
	}
}

func TestApplyPatch_UpdatesLastAppliedCommitAndCommitLog(t *testing.T) {
	ctx := context.Background()
	s := newTestSync(t)

	repo, err := s.CreateEmptyRepo(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateEmptyRepo: %v", err)
	}
	pad, err := s.CreateWorkpad(ctx, repo.ID, "feature")
	if err != nil {
		t.Fatalf("CreateWorkpad: %v", err)
	}

	patch := "diff --git a/a.txt b/a.txt\n" +
		"new file mode 100644\n" +
		"index 0000000..7898192\n" +
		"--- /dev/null\n" +
		"+++ b/a.txt\n" +
		"@@ -0,0 +1 @@\n" +
		"+a\n"
	commit, err := s.ApplyPatch(ctx, pad.ID, patch, "add a")
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	statePad, err := s.State.GetWorkpad(ctx, pad.ID)
	if err != nil {
		t.Fatalf("state.GetWorkpad: %v", err)
	}
	if statePad.LastAppliedCommit != commit {
		t.Errorf("expected last applied commit %s, got %s", commit, statePad.LastAppliedCommit)
	}

	found := false
	commits, err := s.State.GetCommits(ctx, repo.ID, 0)
	if err != nil {
		t.Fatalf("state.GetCommits: %v", err)
	}
	for _, c := range commits {
		if c.SHA == commit {
			found = true
		}
	}
	if !found {
		t.Error("expected new commit to be synced into state's commit log")
	}
}

func TestPromoteWorkpad_MarksStatePromotedAndSyncsCommits(t *testing.T) {
	ctx := context.Background()
	s := newTestSync(t)

	repo, err := s.CreateEmptyRepo(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateEmptyRepo: %v", err)
	}
	pad, err := s.CreateWorkpad(ctx, repo.ID, "feature")
	if err != nil {
		t.Fatalf("CreateWorkpad: %v", err)
	}
	patch := "diff --git a/a.txt b/a.txt\n" +
		"new file mode 100644\n" +
		"index 0000000..7898192\n" +
		"--- /dev/null\n" +
		"+++ b/a.txt\n" +
		"@@ -0,0 +1 @@\n" +
		"+a\n"
	if _, err := s.ApplyPatch(ctx, pad.ID, patch, "add a"); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	newHead, err := s.PromoteWorkpad(ctx, pad.ID)
	if err != nil {
		t.Fatalf("PromoteWorkpad: %v", err)
	}

	statePad, err := s.State.GetWorkpad(ctx, pad.ID)
	if err != nil {
		t.Fatalf("state.GetWorkpad: %v", err)
	}
	if statePad.Status != state.WorkpadPromoted {
		t.Errorf("expected state workpad status promoted, got %s", statePad.Status)
	}
	if statePad.LastAppliedCommit != newHead && newHead == "" {
		t.Error("expected a non-empty new trunk head")
	}

	commits, err := s.State.GetCommits(ctx, repo.ID, 0)
	if err != nil {
		t.Fatalf("state.GetCommits: %v", err)
	}
	synced := false
	for _, c := range commits {
		if c.SHA == newHead && c.IsTrunk {
			synced = true
		}
	}
	if !synced {
		t.Error("expected the new trunk head to be synced into state's commit log as a trunk commit")
	}
}

func TestDeleteWorkpad_CascadesStateCleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestSync(t)

	repo, err := s.CreateEmptyRepo(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateEmptyRepo: %v", err)
	}
	pad, err := s.CreateWorkpad(ctx, repo.ID, "feature")
	if err != nil {
		t.Fatalf("CreateWorkpad: %v", err)
	}

	if err := s.DeleteWorkpad(ctx, pad.ID); err != nil {
		t.Fatalf("DeleteWorkpad: %v", err)
	}
	if _, err := s.Engine.GetWorkpad(pad.ID); err == nil {
		t.Error("expected gitengine workpad to be gone")
	}
	if _, err := s.State.GetWorkpad(ctx, pad.ID); err == nil {
		t.Error("expected state workpad to be gone")
	}
}

func TestSyncAll_RederivesStateFromGitEngineOnly(t *testing.T) {
	ctx := context.Background()
	skipIfNoGit(t)

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

	// Fresh, empty state manager simulates a wiped/corrupted state file:
	// gitengine has a repo and workpad that state knows nothing about.
	mgr := state.NewManager(state.NewMemBackend())
	s := New(eng, mgr)

	stats, err := s.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if stats.Repos != 1 {
		t.Errorf("expected 1 repo rederived, got %d", stats.Repos)
	}
	if stats.Workpads != 1 {
		t.Errorf("expected 1 workpad rederived, got %d", stats.Workpads)
	}
	if stats.Commits == 0 {
		t.Error("expected commits to be rederived")
	}

	if _, err := mgr.GetRepository(ctx, repo.ID); err != nil {
		t.Errorf("expected repo to now exist in state: %v", err)
	}
	if _, err := mgr.GetWorkpad(ctx, pad.ID); err != nil {
		t.Errorf("expected workpad to now exist in state: %v", err)
	}

	// Running again should be a no-op rederivation: nothing new to create.
	stats2, err := s.SyncAll(ctx)
	if err != nil {
		t.Fatalf("second SyncAll: %v", err)
	}
	if stats2.Repos != 0 || stats2.Workpads != 0 {
		t.Errorf("expected second SyncAll to be a no-op, got %+v", stats2)
	}
}
