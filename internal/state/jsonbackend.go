package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// JSONBackend is the reference Backend: one JSON file per record under
// directories keyed by entity kind, atomic write-then-rename, a per-day
// append file for events.
type JSONBackend struct {
	mu      sync.Mutex // serializes writes to this backend instance
	baseDir string
}

const (
	maxCommitsPerRepo = 1000
	maxEventsPerDay   = 10000
)

// NewJSONBackend creates (if needed) the on-disk layout rooted at baseDir.
func NewJSONBackend(baseDir string) (*JSONBackend, error) {
	dirs := []string{"repositories", "workpads", "test_runs", "ai_operations", "promotions", "commits", "events"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(baseDir, d), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", d, err)
		}
	}
	return &JSONBackend{baseDir: baseDir}, nil
}

func (b *JSONBackend) path(kind, id string) string {
	return filepath.Join(b.baseDir, kind, id+".json")
}

// writeAtomic writes data to a temp file in the same directory, then renames
// it into place, so a crash mid-write never leaves a partial record behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	return writeAtomic(path, data)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

func (b *JSONBackend) ReadGlobal(ctx context.Context) (*GlobalState, error) {
	var g GlobalState
	if err := readJSON(filepath.Join(b.baseDir, "global.json"), &g); err != nil {
		if err == ErrNotFound {
			return NewGlobalState(), nil
		}
		return nil, err
	}
	return &g, nil
}

func (b *JSONBackend) WriteGlobal(ctx context.Context, g *GlobalState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSON(filepath.Join(b.baseDir, "global.json"), g)
}

func (b *JSONBackend) ReadRepo(ctx context.Context, id string) (*Repository, error) {
	var r Repository
	if err := readJSON(b.path("repositories", id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (b *JSONBackend) WriteRepo(ctx context.Context, r *Repository) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSON(b.path("repositories", r.ID), r)
}

func (b *JSONBackend) ListRepos(ctx context.Context) ([]*Repository, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "repositories"))
	if err != nil {
		return nil, err
	}
	var out []*Repository
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var r Repository
		if err := readJSON(filepath.Join(b.baseDir, "repositories", e.Name()), &r); err == nil {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *JSONBackend) DeleteRepo(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path("repositories", id))
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (b *JSONBackend) ReadWorkpad(ctx context.Context, id string) (*Workpad, error) {
	var w Workpad
	if err := readJSON(b.path("workpads", id), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (b *JSONBackend) WriteWorkpad(ctx context.Context, w *Workpad) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSON(b.path("workpads", w.ID), w)
}

func (b *JSONBackend) ListWorkpads(ctx context.Context, f Filter) ([]*Workpad, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "workpads"))
	if err != nil {
		return nil, err
	}
	var out []*Workpad
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var w Workpad
		if err := readJSON(filepath.Join(b.baseDir, "workpads", e.Name()), &w); err == nil {
			if f.RepoID != "" && w.RepoID != f.RepoID {
				continue
			}
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *JSONBackend) DeleteWorkpad(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path("workpads", id))
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (b *JSONBackend) ReadTestRun(ctx context.Context, id string) (*TestRun, error) {
	var t TestRun
	if err := readJSON(b.path("test_runs", id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONBackend) WriteTestRun(ctx context.Context, t *TestRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSON(b.path("test_runs", t.ID), t)
}

func (b *JSONBackend) ListTestRuns(ctx context.Context, f Filter) ([]*TestRun, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "test_runs"))
	if err != nil {
		return nil, err
	}
	var out []*TestRun
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var t TestRun
		if err := readJSON(filepath.Join(b.baseDir, "test_runs", e.Name()), &t); err == nil {
			if f.WorkpadID != "" && t.WorkpadID != f.WorkpadID {
				continue
			}
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (b *JSONBackend) DeleteTestRun(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path("test_runs", id))
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (b *JSONBackend) ReadAIOperation(ctx context.Context, id string) (*AIOperation, error) {
	var a AIOperation
	if err := readJSON(b.path("ai_operations", id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (b *JSONBackend) WriteAIOperation(ctx context.Context, a *AIOperation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSON(b.path("ai_operations", a.ID), a)
}

func (b *JSONBackend) ListAIOperations(ctx context.Context, f Filter) ([]*AIOperation, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "ai_operations"))
	if err != nil {
		return nil, err
	}
	var out []*AIOperation
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var a AIOperation
		if err := readJSON(filepath.Join(b.baseDir, "ai_operations", e.Name()), &a); err == nil {
			if f.WorkpadID != "" && a.WorkpadID != f.WorkpadID {
				continue
			}
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (b *JSONBackend) DeleteAIOperation(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path("ai_operations", id))
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (b *JSONBackend) ReadPromotion(ctx context.Context, id string) (*PromotionRecord, error) {
	var p PromotionRecord
	if err := readJSON(b.path("promotions", id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *JSONBackend) WritePromotion(ctx context.Context, p *PromotionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSON(b.path("promotions", p.ID), p)
}

func (b *JSONBackend) ListPromotions(ctx context.Context, f Filter) ([]*PromotionRecord, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "promotions"))
	if err != nil {
		return nil, err
	}
	var out []*PromotionRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var p PromotionRecord
		if err := readJSON(filepath.Join(b.baseDir, "promotions", e.Name()), &p); err == nil {
			if f.RepoID != "" && p.RepoID != f.RepoID {
				continue
			}
			if f.WorkpadID != "" && p.WorkpadID != f.WorkpadID {
				continue
			}
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *JSONBackend) DeletePromotion(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path("promotions", id))
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

type commitLog struct {
	RepoID  string       `json:"repo_id"`
	Commits []CommitNode `json:"commits"`
}

func (b *JSONBackend) commitsPath(repoID string) string {
	return filepath.Join(b.baseDir, "commits", repoID+".json")
}

func (b *JSONBackend) ReadCommits(ctx context.Context, repoID string, limit int) ([]CommitNode, error) {
	var log commitLog
	if err := readJSON(b.commitsPath(repoID), &log); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if limit > 0 && len(log.Commits) > limit {
		return log.Commits[:limit], nil
	}
	return log.Commits, nil
}

// WriteCommit prepends c to the repo's commit log (newest first) and
// truncates it to maxCommitsPerRepo so the log stays bounded.
func (b *JSONBackend) WriteCommit(ctx context.Context, repoID string, c CommitNode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var log commitLog
	if err := readJSON(b.commitsPath(repoID), &log); err != nil && err != ErrNotFound {
		return err
	}
	log.RepoID = repoID
	log.Commits = append([]CommitNode{c}, log.Commits...)
	if len(log.Commits) > maxCommitsPerRepo {
		log.Commits = log.Commits[:maxCommitsPerRepo]
	}
	return writeJSON(b.commitsPath(repoID), &log)
}

type eventLog struct {
	Events []StateEvent `json:"events"`
}

func (b *JSONBackend) eventsPath(day string) string {
	return filepath.Join(b.baseDir, "events", "events-"+day+".json")
}

// WriteEvent appends e to today's event file, bounded at maxEventsPerDay.
func (b *JSONBackend) WriteEvent(ctx context.Context, e StateEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	day := e.Timestamp.UTC().Format("2006-01-02")
	path := b.eventsPath(day)
	var log eventLog
	if err := readJSON(path, &log); err != nil && err != ErrNotFound {
		return err
	}
	log.Events = append(log.Events, e)
	if len(log.Events) > maxEventsPerDay {
		log.Events = log.Events[len(log.Events)-maxEventsPerDay:]
	}
	return writeJSON(path, &log)
}

// ReadEvents returns events strictly after `since` (if set), most-recent-first,
// up to limit. It scans per-day files newest-day-first so a small limit does
// not require loading the whole history.
func (b *JSONBackend) ReadEvents(ctx context.Context, since *time.Time, limit int) ([]StateEvent, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "events"))
	if err != nil {
		return nil, err
	}
	var days []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "events-") && strings.HasSuffix(e.Name(), ".json") {
			days = append(days, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	var out []StateEvent
	for _, day := range days {
		var log eventLog
		if err := readJSON(filepath.Join(b.baseDir, "events", day), &log); err != nil {
			continue
		}
		for i := len(log.Events) - 1; i >= 0; i-- {
			ev := log.Events[i]
			if since != nil && !ev.Timestamp.After(*since) {
				continue
			}
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}
