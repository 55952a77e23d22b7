package state

import (
	"context"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewMemBackend())
}

func TestManager_CreateAndGetRepository(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	r, err := m.CreateRepository(ctx, "repo-1", "demo", "/tmp/demo", "trunk", SourceEmpty)
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	if r.ID != "repo-1" {
		t.Errorf("expected caller-supplied ID to be preserved, got %q", r.ID)
	}

	got, err := m.GetRepository(ctx, "repo-1")
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if got.Name != "demo" {
		t.Errorf("expected name demo, got %q", got.Name)
	}
}

func TestManager_CreateWorkpadBumpsActiveCount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	repo, err := m.CreateRepository(ctx, "repo-1", "demo", "/tmp/demo", "trunk", SourceEmpty)
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	if _, err := m.CreateWorkpad(ctx, "pad-1", repo.ID, "feature", "pad/feature", "abc123"); err != nil {
		t.Fatalf("CreateWorkpad: %v", err)
	}

	updated, err := m.GetRepository(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if updated.ActiveWorkpadCnt != 1 {
		t.Errorf("expected active workpad count 1, got %d", updated.ActiveWorkpadCnt)
	}
}

func TestManager_DeleteWorkpadDecrementsCount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	repo, _ := m.CreateRepository(ctx, "repo-1", "demo", "/tmp/demo", "trunk", SourceEmpty)
	pad, err := m.CreateWorkpad(ctx, "pad-1", repo.ID, "feature", "pad/feature", "abc123")
	if err != nil {
		t.Fatalf("CreateWorkpad: %v", err)
	}

	if err := m.DeleteWorkpad(ctx, pad.ID); err != nil {
		t.Fatalf("DeleteWorkpad: %v", err)
	}
	if _, err := m.GetWorkpad(ctx, pad.ID); err == nil {
		t.Fatal("expected workpad to be gone after delete")
	}

	updated, err := m.GetRepository(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if updated.ActiveWorkpadCnt != 0 {
		t.Errorf("expected active workpad count back to 0, got %d", updated.ActiveWorkpadCnt)
	}
}

func TestManager_DeleteRepositoryCascades(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	repo, _ := m.CreateRepository(ctx, "repo-1", "demo", "/tmp/demo", "trunk", SourceEmpty)
	pad, _ := m.CreateWorkpad(ctx, "pad-1", repo.ID, "feature", "pad/feature", "abc123")
	run, err := m.OpenTestRun(ctx, pad.ID, "feature")
	if err != nil {
		t.Fatalf("OpenTestRun: %v", err)
	}
	if _, err := m.RecordPromotionDecision(ctx, RecordPromotionDecisionOpts{
		RepoID: repo.ID, WorkpadID: pad.ID, TestRunID: run.ID, Decision: DecisionApprove,
	}); err != nil {
		t.Fatalf("RecordPromotionDecision: %v", err)
	}

	if err := m.DeleteRepository(ctx, repo.ID); err != nil {
		t.Fatalf("DeleteRepository: %v", err)
	}

	if _, err := m.GetWorkpad(ctx, pad.ID); err == nil {
		t.Error("expected workpad to be cascade-deleted")
	}
	if _, err := m.GetTestRun(ctx, run.ID); err == nil {
		t.Error("expected test run to be cascade-deleted")
	}
	promos, err := m.ListPromotions(ctx, Filter{RepoID: repo.ID})
	if err != nil {
		t.Fatalf("ListPromotions: %v", err)
	}
	if len(promos) != 0 {
		t.Errorf("expected promotions to be cascade-deleted, got %d", len(promos))
	}
}

func TestManager_FinalizeTestRunAggregatesCounts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	repo, _ := m.CreateRepository(ctx, "repo-1", "demo", "/tmp/demo", "trunk", SourceEmpty)
	pad, _ := m.CreateWorkpad(ctx, "pad-1", repo.ID, "feature", "pad/feature", "abc123")

	run, err := m.OpenTestRun(ctx, pad.ID, "feature")
	if err != nil {
		t.Fatalf("OpenTestRun: %v", err)
	}

	results := []TestResult{
		{Name: "a", Status: TestPassed},
		{Name: "b", Status: TestFailed},
		{Name: "c", Status: TestSkipped},
	}
	finished, err := m.FinalizeTestRun(ctx, run.ID, TestFailed, results)
	if err != nil {
		t.Fatalf("FinalizeTestRun: %v", err)
	}
	if finished.Total != 3 || finished.Passed != 1 || finished.Failed != 1 || finished.Skipped != 1 {
		t.Errorf("unexpected aggregate counts: %+v", finished)
	}
	if finished.EndedAt == nil {
		t.Error("expected EndedAt to be set")
	}
}

func TestManager_ReadEventsSinceCursor(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	if _, err := m.CreateRepository(ctx, "repo-1", "demo", "/tmp/demo", "trunk", SourceEmpty); err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}

	all, err := m.ReadEvents(ctx, nil, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("expected at least one event after repo creation")
	}

	cursor := all[len(all)-1].Timestamp
	after, err := m.ReadEvents(ctx, &cursor, 0)
	if err != nil {
		t.Fatalf("ReadEvents with cursor: %v", err)
	}
	for _, e := range after {
		if !e.Timestamp.After(cursor) {
			t.Errorf("expected strictly-after cursor semantics, got event at %v for cursor %v", e.Timestamp, cursor)
		}
	}
}
