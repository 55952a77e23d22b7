package state

import (
	"context"
	"time"
)

// Filter narrows a List call. Zero values mean "no constraint on that field".
type Filter struct {
	RepoID    string
	WorkpadID string
}

// Backend is the storage contract every persistence implementation must
// satisfy: JSON-on-disk (jsonbackend.go), SQLite (sqlitebackend.go), and an
// in-memory map (membackend.go) used by tests. StateManager is the only
// caller; it adds ID generation, event emission, and cascade semantics on
// top of whichever Backend it is given.
type Backend interface {
	ReadGlobal(ctx context.Context) (*GlobalState, error)
	WriteGlobal(ctx context.Context, g *GlobalState) error

	ReadRepo(ctx context.Context, id string) (*Repository, error)
	WriteRepo(ctx context.Context, r *Repository) error
	ListRepos(ctx context.Context) ([]*Repository, error)
	DeleteRepo(ctx context.Context, id string) error

	ReadWorkpad(ctx context.Context, id string) (*Workpad, error)
	WriteWorkpad(ctx context.Context, w *Workpad) error
	ListWorkpads(ctx context.Context, f Filter) ([]*Workpad, error)
	DeleteWorkpad(ctx context.Context, id string) error

	ReadTestRun(ctx context.Context, id string) (*TestRun, error)
	WriteTestRun(ctx context.Context, t *TestRun) error
	ListTestRuns(ctx context.Context, f Filter) ([]*TestRun, error)
	DeleteTestRun(ctx context.Context, id string) error

	ReadAIOperation(ctx context.Context, id string) (*AIOperation, error)
	WriteAIOperation(ctx context.Context, a *AIOperation) error
	ListAIOperations(ctx context.Context, f Filter) ([]*AIOperation, error)
	DeleteAIOperation(ctx context.Context, id string) error

	ReadPromotion(ctx context.Context, id string) (*PromotionRecord, error)
	WritePromotion(ctx context.Context, p *PromotionRecord) error
	ListPromotions(ctx context.Context, f Filter) ([]*PromotionRecord, error)
	DeletePromotion(ctx context.Context, id string) error

	ReadCommits(ctx context.Context, repoID string, limit int) ([]CommitNode, error)
	WriteCommit(ctx context.Context, repoID string, c CommitNode) error

	WriteEvent(ctx context.Context, e StateEvent) error
	ReadEvents(ctx context.Context, since *time.Time, limit int) ([]StateEvent, error)
}
