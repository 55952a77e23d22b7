package state

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solo-git/sologit/internal/logging"
)

// Manager adds ID generation, event emission, cascade-delete semantics, and
// active-context tracking on top of a Backend. It is the only thing
// GitStateSync and the workflows talk to for persistence.
type Manager struct {
	backend Backend
	log     zerolog.Logger
}

// NewManager wraps backend with ID generation and event emission.
func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend, log: logging.For("state")}
}

// newID returns a fresh UUID v4 string for records whose caller doesn't
// supply one.
func newID() string { return uuid.NewString() }

func (m *Manager) emit(ctx context.Context, typ EventType, data map[string]interface{}) {
	ev := StateEvent{ID: newID(), Type: typ, Timestamp: time.Now().UTC(), Data: data}
	if err := m.backend.WriteEvent(ctx, ev); err != nil {
		// State-write failures are logged, not raised. The Git world-view
		// (if any) is unaffected; SyncAll is the reconciliation primitive
		// for callers that go through gitsync.
		m.log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to write event")
	}
}

// --- Repository ---

// CreateRepository persists a new Repository record and emits repo_created.
// id is supplied by the caller (GitStateSync passes the gitengine.RepoMeta ID
// so the two layers always agree on a repository's identity) rather than
// generated here.
func (m *Manager) CreateRepository(ctx context.Context, id, name, path, trunk string, source RepoSource) (*Repository, error) {
	r := &Repository{
		ID:          id,
		Name:        name,
		Path:        path,
		TrunkBranch: trunk,
		CreatedAt:   time.Now().UTC(),
		Source:      source,
	}
	if err := m.backend.WriteRepo(ctx, r); err != nil {
		return nil, &Error{Op: "create repository", Err: err}
	}
	m.emit(ctx, EventRepoCreated, map[string]interface{}{"repo_id": r.ID, "name": name})
	return r, nil
}

func (m *Manager) GetRepository(ctx context.Context, id string) (*Repository, error) {
	return m.backend.ReadRepo(ctx, id)
}

func (m *Manager) ListRepositories(ctx context.Context) ([]*Repository, error) {
	return m.backend.ListRepos(ctx)
}

// UpdateRepository applies fn to the stored repository and persists it,
// emitting repo_updated.
func (m *Manager) UpdateRepository(ctx context.Context, id string, fn func(*Repository)) (*Repository, error) {
	r, err := m.backend.ReadRepo(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(r)
	if err := m.backend.WriteRepo(ctx, r); err != nil {
		return nil, &Error{Op: "update repository", Err: err}
	}
	m.emit(ctx, EventRepoUpdated, map[string]interface{}{"repo_id": id})
	return r, nil
}

// DeleteRepository cascades to all workpads, test runs, AI operations, and
// promotion records owned by the repo.
func (m *Manager) DeleteRepository(ctx context.Context, id string) error {
	pads, err := m.backend.ListWorkpads(ctx, Filter{RepoID: id})
	if err != nil {
		return &Error{Op: "list workpads for cascade", Err: err}
	}
	for _, p := range pads {
		if err := m.deleteWorkpadRecords(ctx, p.ID); err != nil {
			return err
		}
	}
	promos, err := m.backend.ListPromotions(ctx, Filter{RepoID: id})
	if err != nil {
		return &Error{Op: "list promotions for cascade", Err: err}
	}
	for _, p := range promos {
		_ = m.backend.DeletePromotion(ctx, p.ID)
	}
	if err := m.backend.DeleteRepo(ctx, id); err != nil {
		return &Error{Op: "delete repository", Err: err}
	}
	return nil
}

// --- Workpad ---

// CreateWorkpad persists a new Workpad and bumps the parent repo's active
// count. id is supplied by the caller (GitStateSync passes the
// gitengine.WorkpadMeta ID) so both layers share one identity per workpad.
func (m *Manager) CreateWorkpad(ctx context.Context, id, repoID, title, branch, baseCommit string) (*Workpad, error) {
	w := NewWorkpad(id, repoID, title, branch, baseCommit)
	if err := m.backend.WriteWorkpad(ctx, w); err != nil {
		return nil, &Error{Op: "create workpad", Err: err}
	}
	if _, err := m.UpdateRepository(ctx, repoID, func(r *Repository) { r.ActiveWorkpadCnt++ }); err != nil {
		m.log.Warn().Err(err).Str("repo_id", repoID).Msg("failed to bump active workpad count")
	}
	m.emit(ctx, EventWorkpadCreated, map[string]interface{}{"workpad_id": w.ID, "repo_id": repoID, "title": title})
	return w, nil
}

func (m *Manager) GetWorkpad(ctx context.Context, id string) (*Workpad, error) {
	return m.backend.ReadWorkpad(ctx, id)
}

func (m *Manager) ListWorkpads(ctx context.Context, repoID string) ([]*Workpad, error) {
	return m.backend.ListWorkpads(ctx, Filter{RepoID: repoID})
}

// UpdateWorkpad applies fn to the stored workpad, bumps UpdatedAt, persists,
// and emits workpad_updated.
func (m *Manager) UpdateWorkpad(ctx context.Context, id string, fn func(*Workpad)) (*Workpad, error) {
	w, err := m.backend.ReadWorkpad(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(w)
	w.UpdatedAt = time.Now().UTC()
	if err := m.backend.WriteWorkpad(ctx, w); err != nil {
		return nil, &Error{Op: "update workpad", Err: err}
	}
	m.emit(ctx, EventWorkpadUpdated, map[string]interface{}{"workpad_id": id, "status": string(w.Status)})
	return w, nil
}

// MarkPromoted transitions a workpad to promoted and emits workpad_promoted.
func (m *Manager) MarkPromoted(ctx context.Context, id, commit string) (*Workpad, error) {
	w, err := m.backend.ReadWorkpad(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Status = WorkpadPromoted
	w.LastAppliedCommit = commit
	w.UpdatedAt = time.Now().UTC()
	if err := m.backend.WriteWorkpad(ctx, w); err != nil {
		return nil, &Error{Op: "mark promoted", Err: err}
	}
	m.emit(ctx, EventWorkpadPromoted, map[string]interface{}{"workpad_id": id, "commit": commit})
	return w, nil
}

// DeleteWorkpad cascades to the workpad's test runs, AI operations, and
// promotion records.
func (m *Manager) DeleteWorkpad(ctx context.Context, id string) error {
	w, err := m.backend.ReadWorkpad(ctx, id)
	if err != nil {
		return err
	}
	if err := m.deleteWorkpadRecords(ctx, id); err != nil {
		return err
	}
	if _, err := m.UpdateRepository(ctx, w.RepoID, func(r *Repository) {
		if r.ActiveWorkpadCnt > 0 {
			r.ActiveWorkpadCnt--
		}
	}); err != nil {
		m.log.Warn().Err(err).Str("repo_id", w.RepoID).Msg("failed to decrement active workpad count")
	}
	m.emit(ctx, EventWorkpadDeleted, map[string]interface{}{"workpad_id": id})
	return nil
}

// deleteWorkpadRecords removes the workpad and everything it owns, without
// touching repo counters or emitting workpad_deleted (used by DeleteWorkpad,
// which does both itself, and by the repository-cascade path, which emits
// no event).
func (m *Manager) deleteWorkpadRecords(ctx context.Context, id string) error {
	runs, err := m.backend.ListTestRuns(ctx, Filter{WorkpadID: id})
	if err != nil {
		return &Error{Op: "list test runs for cascade", Err: err}
	}
	for _, r := range runs {
		_ = m.backend.DeleteTestRun(ctx, r.ID)
	}
	ops, err := m.backend.ListAIOperations(ctx, Filter{WorkpadID: id})
	if err != nil {
		return &Error{Op: "list ai operations for cascade", Err: err}
	}
	for _, o := range ops {
		_ = m.backend.DeleteAIOperation(ctx, o.ID)
	}
	promos, err := m.backend.ListPromotions(ctx, Filter{WorkpadID: id})
	if err != nil {
		return &Error{Op: "list promotions for cascade", Err: err}
	}
	for _, p := range promos {
		_ = m.backend.DeletePromotion(ctx, p.ID)
	}
	if err := m.backend.DeleteWorkpad(ctx, id); err != nil {
		return &Error{Op: "delete workpad", Err: err}
	}
	return nil
}

// --- TestRun ---

// OpenTestRun creates a new TestRun in `running` status and emits test_started.
func (m *Manager) OpenTestRun(ctx context.Context, workpadID, targetLabel string) (*TestRun, error) {
	t := NewTestRun(newID(), workpadID, targetLabel)
	t.Status = TestRunning
	if err := m.backend.WriteTestRun(ctx, t); err != nil {
		return nil, &Error{Op: "open test run", Err: err}
	}
	m.emit(ctx, EventTestStarted, map[string]interface{}{"test_run_id": t.ID, "workpad_id": workpadID})
	return t, nil
}

// FinalizeTestRun records the final status, aggregate counts, and per-test
// results, and emits test_completed.
func (m *Manager) FinalizeTestRun(ctx context.Context, id string, status TestStatus, results []TestResult) (*TestRun, error) {
	t, err := m.backend.ReadTestRun(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t.Status = status
	t.EndedAt = &now
	t.Results = results
	t.DurationMs = now.Sub(t.StartedAt).Milliseconds()
	t.Total, t.Passed, t.Failed, t.Skipped = 0, 0, 0, 0
	for _, r := range results {
		t.Total++
		switch r.Status {
		case TestPassed:
			t.Passed++
		case TestFailed, TestTimeout, TestError:
			t.Failed++
		case TestSkipped:
			t.Skipped++
		}
	}
	if err := m.backend.WriteTestRun(ctx, t); err != nil {
		return nil, &Error{Op: "finalize test run", Err: err}
	}
	m.emit(ctx, EventTestCompleted, map[string]interface{}{
		"test_run_id": id, "status": string(status), "total": t.Total, "passed": t.Passed, "failed": t.Failed,
	})
	return t, nil
}

func (m *Manager) GetTestRun(ctx context.Context, id string) (*TestRun, error) {
	return m.backend.ReadTestRun(ctx, id)
}

func (m *Manager) ListTestRuns(ctx context.Context, workpadID string) ([]*TestRun, error) {
	return m.backend.ListTestRuns(ctx, Filter{WorkpadID: workpadID})
}

// --- AIOperation ---

func (m *Manager) StartAIOperation(ctx context.Context, workpadID string, typ AIOpType, model, prompt string) (*AIOperation, error) {
	a := &AIOperation{
		ID:        newID(),
		WorkpadID: workpadID,
		Type:      typ,
		Model:     model,
		Status:    AIOpRunning,
		Prompt:    prompt,
		StartedAt: time.Now().UTC(),
	}
	if err := m.backend.WriteAIOperation(ctx, a); err != nil {
		return nil, &Error{Op: "start ai operation", Err: err}
	}
	m.emit(ctx, EventAIOperationStarted, map[string]interface{}{"ai_operation_id": a.ID, "type": string(typ)})
	return a, nil
}

func (m *Manager) CompleteAIOperation(ctx context.Context, id, response string, tokens int64, cost float64, opErr error) (*AIOperation, error) {
	a, err := m.backend.ReadAIOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a.EndedAt = &now
	a.Response = response
	a.TokensTotal = tokens
	a.CostTotal = cost
	if opErr != nil {
		a.Status = AIOpFailed
		a.Error = opErr.Error()
	} else {
		a.Status = AIOpCompleted
	}
	if err := m.backend.WriteAIOperation(ctx, a); err != nil {
		return nil, &Error{Op: "complete ai operation", Err: err}
	}
	m.emit(ctx, EventAIOperationCompleted, map[string]interface{}{"ai_operation_id": id, "status": string(a.Status)})
	return a, nil
}

func (m *Manager) ListAIOperations(ctx context.Context, workpadID string) ([]*AIOperation, error) {
	return m.backend.ListAIOperations(ctx, Filter{WorkpadID: workpadID})
}

// --- PromotionRecord ---

// RecordPromotionDecisionOpts is the normalized input to RecordPromotionDecision.
type RecordPromotionDecisionOpts struct {
	RepoID         string
	WorkpadID      string
	Decision       PromotionDecision
	CanPromote     bool
	AutoPromote    bool
	Promoted       bool
	PromotedCommit string
	Message        string
	TestRunID      string
	CIStatus       CIStatus
	CIMessage      string
}

func (m *Manager) RecordPromotionDecision(ctx context.Context, opts RecordPromotionDecisionOpts) (*PromotionRecord, error) {
	p := &PromotionRecord{
		ID:             newID(),
		RepoID:         opts.RepoID,
		WorkpadID:      opts.WorkpadID,
		Decision:       opts.Decision,
		CanPromote:     opts.CanPromote,
		AutoPromote:    opts.AutoPromote,
		Promoted:       opts.Promoted,
		PromotedCommit: opts.PromotedCommit,
		Message:        opts.Message,
		TestRunID:      opts.TestRunID,
		CIStatus:       opts.CIStatus,
		CIMessage:      opts.CIMessage,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.backend.WritePromotion(ctx, p); err != nil {
		return nil, &Error{Op: "record promotion decision", Err: err}
	}
	m.emit(ctx, EventPromotionRecorded, map[string]interface{}{
		"promotion_id": p.ID, "workpad_id": opts.WorkpadID, "decision": string(opts.Decision),
	})
	return p, nil
}

func (m *Manager) ListPromotions(ctx context.Context, f Filter) ([]*PromotionRecord, error) {
	return m.backend.ListPromotions(ctx, f)
}

// --- Commits ---

// RecordCommit appends a CommitNode to the repo's bounded commit log and
// emits commit_created.
func (m *Manager) RecordCommit(ctx context.Context, repoID string, c CommitNode) error {
	if err := m.backend.WriteCommit(ctx, repoID, c); err != nil {
		return &Error{Op: "record commit", Err: err}
	}
	m.emit(ctx, EventCommitCreated, map[string]interface{}{"repo_id": repoID, "sha": c.SHA})
	return nil
}

func (m *Manager) GetCommits(ctx context.Context, repoID string, limit int) ([]CommitNode, error) {
	return m.backend.ReadCommits(ctx, repoID, limit)
}

// --- Events ---

func (m *Manager) ReadEvents(ctx context.Context, since *time.Time, limit int) ([]StateEvent, error) {
	return m.backend.ReadEvents(ctx, since, limit)
}

// --- Global / active context ---

func (m *Manager) GetActiveContext(ctx context.Context) (*GlobalState, error) {
	return m.backend.ReadGlobal(ctx)
}

// SetActiveContext updates the active repo/workpad pointers. Passing an
// empty string leaves that field unchanged, so this method cannot unset a
// pointer.
func (m *Manager) SetActiveContext(ctx context.Context, repoID, workpadID string) (*GlobalState, error) {
	g, err := m.backend.ReadGlobal(ctx)
	if err != nil {
		return nil, err
	}
	if repoID != "" {
		g.ActiveRepoID = repoID
	}
	if workpadID != "" {
		g.ActiveWorkpadID = workpadID
	}
	g.LastUpdated = time.Now().UTC()
	if err := m.backend.WriteGlobal(ctx, g); err != nil {
		return nil, &Error{Op: "set active context", Err: err}
	}
	return g, nil
}

// IncrementOperationCount bumps GlobalState's session counters, used by
// workflows to track cumulative AI cost and operation count.
func (m *Manager) IncrementOperationCount(ctx context.Context, costDelta float64) error {
	g, err := m.backend.ReadGlobal(ctx)
	if err != nil {
		return err
	}
	g.OperationCount++
	g.CumulativeCostUSD += costDelta
	g.LastUpdated = time.Now().UTC()
	return m.backend.WriteGlobal(ctx, g)
}
