package state

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemBackend is an in-memory Backend implementation for tests, letting
// callers exercise Backend without touching the filesystem.
type MemBackend struct {
	mu sync.Mutex

	global    *GlobalState
	repos     map[string]*Repository
	workpads  map[string]*Workpad
	testRuns  map[string]*TestRun
	aiOps     map[string]*AIOperation
	promos    map[string]*PromotionRecord
	commits   map[string][]CommitNode
	events    []StateEvent
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		global:   NewGlobalState(),
		repos:    make(map[string]*Repository),
		workpads: make(map[string]*Workpad),
		testRuns: make(map[string]*TestRun),
		aiOps:    make(map[string]*AIOperation),
		promos:   make(map[string]*PromotionRecord),
		commits:  make(map[string][]CommitNode),
	}
}

func cloneJSON[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		shallow := *v
		return &shallow
	}
	var cp T
	if err := json.Unmarshal(data, &cp); err != nil {
		shallow := *v
		return &shallow
	}
	return &cp
}

func (b *MemBackend) ReadGlobal(ctx context.Context) (*GlobalState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneJSON(b.global), nil
}

func (b *MemBackend) WriteGlobal(ctx context.Context, g *GlobalState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = cloneJSON(g)
	return nil
}

func (b *MemBackend) ReadRepo(ctx context.Context, id string) (*Repository, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.repos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJSON(r), nil
}

func (b *MemBackend) WriteRepo(ctx context.Context, r *Repository) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repos[r.ID] = cloneJSON(r)
	return nil
}

func (b *MemBackend) ListRepos(ctx context.Context) ([]*Repository, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Repository, 0, len(b.repos))
	for _, r := range b.repos {
		out = append(out, cloneJSON(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *MemBackend) DeleteRepo(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.repos[id]; !ok {
		return ErrNotFound
	}
	delete(b.repos, id)
	return nil
}

func (b *MemBackend) ReadWorkpad(ctx context.Context, id string) (*Workpad, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.workpads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJSON(w), nil
}

func (b *MemBackend) WriteWorkpad(ctx context.Context, w *Workpad) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workpads[w.ID] = cloneJSON(w)
	return nil
}

func (b *MemBackend) ListWorkpads(ctx context.Context, f Filter) ([]*Workpad, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Workpad
	for _, w := range b.workpads {
		if f.RepoID != "" && w.RepoID != f.RepoID {
			continue
		}
		out = append(out, cloneJSON(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *MemBackend) DeleteWorkpad(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.workpads[id]; !ok {
		return ErrNotFound
	}
	delete(b.workpads, id)
	return nil
}

func (b *MemBackend) ReadTestRun(ctx context.Context, id string) (*TestRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.testRuns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJSON(t), nil
}

func (b *MemBackend) WriteTestRun(ctx context.Context, t *TestRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.testRuns[t.ID] = cloneJSON(t)
	return nil
}

func (b *MemBackend) ListTestRuns(ctx context.Context, f Filter) ([]*TestRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*TestRun
	for _, t := range b.testRuns {
		if f.WorkpadID != "" && t.WorkpadID != f.WorkpadID {
			continue
		}
		out = append(out, cloneJSON(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (b *MemBackend) DeleteTestRun(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.testRuns[id]; !ok {
		return ErrNotFound
	}
	delete(b.testRuns, id)
	return nil
}

func (b *MemBackend) ReadAIOperation(ctx context.Context, id string) (*AIOperation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.aiOps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJSON(a), nil
}

func (b *MemBackend) WriteAIOperation(ctx context.Context, a *AIOperation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aiOps[a.ID] = cloneJSON(a)
	return nil
}

func (b *MemBackend) ListAIOperations(ctx context.Context, f Filter) ([]*AIOperation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*AIOperation
	for _, a := range b.aiOps {
		if f.WorkpadID != "" && a.WorkpadID != f.WorkpadID {
			continue
		}
		out = append(out, cloneJSON(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (b *MemBackend) DeleteAIOperation(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.aiOps[id]; !ok {
		return ErrNotFound
	}
	delete(b.aiOps, id)
	return nil
}

func (b *MemBackend) ReadPromotion(ctx context.Context, id string) (*PromotionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.promos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJSON(p), nil
}

func (b *MemBackend) WritePromotion(ctx context.Context, p *PromotionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promos[p.ID] = cloneJSON(p)
	return nil
}

func (b *MemBackend) ListPromotions(ctx context.Context, f Filter) ([]*PromotionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*PromotionRecord
	for _, p := range b.promos {
		if f.RepoID != "" && p.RepoID != f.RepoID {
			continue
		}
		if f.WorkpadID != "" && p.WorkpadID != f.WorkpadID {
			continue
		}
		out = append(out, cloneJSON(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *MemBackend) DeletePromotion(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.promos[id]; !ok {
		return ErrNotFound
	}
	delete(b.promos, id)
	return nil
}

func (b *MemBackend) ReadCommits(ctx context.Context, repoID string, limit int) ([]CommitNode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	commits := b.commits[repoID]
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	out := make([]CommitNode, len(commits))
	copy(out, commits)
	return out, nil
}

func (b *MemBackend) WriteCommit(ctx context.Context, repoID string, c CommitNode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	commits := append([]CommitNode{c}, b.commits[repoID]...)
	if len(commits) > maxCommitsPerRepo {
		commits = commits[:maxCommitsPerRepo]
	}
	b.commits[repoID] = commits
	return nil
}

func (b *MemBackend) WriteEvent(ctx context.Context, e StateEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	if len(b.events) > maxEventsPerDay {
		b.events = b.events[len(b.events)-maxEventsPerDay:]
	}
	return nil
}

func (b *MemBackend) ReadEvents(ctx context.Context, since *time.Time, limit int) ([]StateEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []StateEvent
	for i := len(b.events) - 1; i >= 0; i-- {
		ev := b.events[i]
		if since != nil && !ev.Timestamp.After(*since) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
