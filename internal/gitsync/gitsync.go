// Package gitsync bridges gitengine and state: each mutating call performs
// the git operation first and then writes the matching state record, so the
// two stay in step for callers that go through it. The CLI goes through it;
// the automerge and ci workflows call gitengine and state directly.
package gitsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solo-git/sologit/internal/gitengine"
	"github.com/solo-git/sologit/internal/logging"
	"github.com/solo-git/sologit/internal/state"
)

// Sync composes a gitengine.Engine and a state.Manager, keeping them in
// agreement after every mutating call.
type Sync struct {
	Engine *gitengine.Engine
	State  *state.Manager
	log    zerolog.Logger
}

// New builds a Sync over an already-constructed engine and state manager.
func New(engine *gitengine.Engine, mgr *state.Manager) *Sync {
	return &Sync{Engine: engine, State: mgr, log: logging.For("gitsync")}
}

// InitRepoFromZip creates a repository from an archive in git, then mirrors
// it into state, setting it active.
func (s *Sync) InitRepoFromZip(ctx context.Context, name string, zipData []byte) (*gitengine.RepoMeta, error) {
	repo, err := s.Engine.InitFromZip(ctx, name, zipData)
	if err != nil {
		return nil, err
	}
	if err := s.syncNewRepo(ctx, repo); err != nil {
		return repo, err
	}
	if _, err := s.State.SetActiveContext(ctx, repo.ID, ""); err != nil {
		s.log.Warn().Err(err).Msg("failed to set active repo after zip import")
	}
	return repo, nil
}

// InitRepoFromGit clones a repository in git, then mirrors it into state,
// setting it active.
func (s *Sync) InitRepoFromGit(ctx context.Context, name, source string) (*gitengine.RepoMeta, error) {
	repo, err := s.Engine.InitFromGit(ctx, name, source)
	if err != nil {
		return nil, err
	}
	if err := s.syncNewRepo(ctx, repo); err != nil {
		return repo, err
	}
	if _, err := s.State.SetActiveContext(ctx, repo.ID, ""); err != nil {
		s.log.Warn().Err(err).Msg("failed to set active repo after git clone")
	}
	return repo, nil
}

// CreateEmptyRepo creates an empty repository in git, then mirrors it into
// state, setting it active.
func (s *Sync) CreateEmptyRepo(ctx context.Context, name string) (*gitengine.RepoMeta, error) {
	repo, err := s.Engine.CreateEmptyRepo(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.syncNewRepo(ctx, repo); err != nil {
		return repo, err
	}
	if _, err := s.State.SetActiveContext(ctx, repo.ID, ""); err != nil {
		s.log.Warn().Err(err).Msg("failed to set active repo after create")
	}
	return repo, nil
}

func (s *Sync) syncNewRepo(ctx context.Context, repo *gitengine.RepoMeta) error {
	source := state.SourceEmpty
	switch {
	case repo.Source == "zip":
		source = state.SourceZip
	case len(repo.Source) >= 4 && repo.Source[:4] == "git:":
		source = state.SourceGit
	}
	if _, err := s.State.CreateRepository(ctx, repo.ID, repo.Name, repo.Path, repo.TrunkBranch, source); err != nil {
		return fmt.Errorf("gitsync: sync new repo to state: %w", err)
	}
	if err := s.syncCommits(ctx, repo.ID, 100); err != nil {
		s.log.Warn().Err(err).Str("repo_id", repo.ID).Msg("failed to sync initial commits")
	}
	return nil
}

// CreateWorkpad creates a workpad branch in git, then mirrors it into
// state, setting it active.
func (s *Sync) CreateWorkpad(ctx context.Context, repoID, title string) (*gitengine.WorkpadMeta, error) {
	pad, err := s.Engine.CreateWorkpad(ctx, repoID, title)
	if err != nil {
		return nil, err
	}
	if _, err := s.State.CreateWorkpad(ctx, pad.ID, pad.RepoID, pad.Title, pad.Branch, pad.BaseCommit); err != nil {
		return pad, fmt.Errorf("gitsync: sync new workpad to state: %w", err)
	}
	if _, err := s.State.SetActiveContext(ctx, "", pad.ID); err != nil {
		s.log.Warn().Err(err).Msg("failed to set active workpad after create")
	}
	return pad, nil
}

// ApplyPatch applies a patch in git, then records the new head commit and
// resyncs the repo's commit log in state.
func (s *Sync) ApplyPatch(ctx context.Context, padID, patch, message string) (string, error) {
	commit, err := s.Engine.ApplyPatch(ctx, padID, patch, message)
	if err != nil {
		return "", err
	}
	pad, err := s.Engine.GetWorkpad(padID)
	if err != nil {
		return commit, err
	}
	if _, err := s.State.UpdateWorkpad(ctx, padID, func(w *state.Workpad) {
		w.LastAppliedCommit = commit
	}); err != nil {
		s.log.Warn().Err(err).Str("workpad_id", padID).Msg("failed to update workpad state after patch")
	}
	node := state.CommitNode{
		SHA: commit, ShortSHA: shortSHA(commit), Message: message,
		Timestamp: time.Now().UTC(), WorkpadID: padID,
	}
	if err := s.State.RecordCommit(ctx, pad.RepoID, node); err != nil {
		s.log.Warn().Err(err).Str("workpad_id", padID).Msg("failed to record workpad commit")
	}
	if err := s.syncCommits(ctx, pad.RepoID, 100); err != nil {
		s.log.Warn().Err(err).Str("repo_id", pad.RepoID).Msg("failed to sync commits after patch")
	}
	return commit, nil
}

// PromoteWorkpad fast-forwards trunk in git, then marks the workpad
// promoted in state and resyncs the commit log.
func (s *Sync) PromoteWorkpad(ctx context.Context, padID string) (string, error) {
	pad, err := s.Engine.GetWorkpad(padID)
	if err != nil {
		return "", err
	}
	newHead, err := s.Engine.PromoteWorkpad(ctx, padID)
	if err != nil {
		return "", err
	}
	if _, err := s.State.MarkPromoted(ctx, padID, newHead); err != nil {
		s.log.Warn().Err(err).Str("workpad_id", padID).Msg("failed to mark workpad promoted in state")
	}
	if err := s.syncCommits(ctx, pad.RepoID, 100); err != nil {
		s.log.Warn().Err(err).Str("repo_id", pad.RepoID).Msg("failed to sync commits after promotion")
	}
	return newHead, nil
}

// DeleteWorkpad deletes the workpad branch in git and cascades its records
// in state.
func (s *Sync) DeleteWorkpad(ctx context.Context, padID string) error {
	if err := s.Engine.DeleteWorkpad(ctx, padID); err != nil {
		return err
	}
	if err := s.State.DeleteWorkpad(ctx, padID); err != nil {
		s.log.Warn().Err(err).Str("workpad_id", padID).Msg("failed to cascade-delete workpad state")
	}
	return nil
}

// DeleteRepository removes the repo's working tree in git and cascades its
// records in state.
func (s *Sync) DeleteRepository(ctx context.Context, repoID string) error {
	if err := s.Engine.DeleteRepository(ctx, repoID); err != nil {
		return err
	}
	if err := s.State.DeleteRepository(ctx, repoID); err != nil {
		s.log.Warn().Err(err).Str("repo_id", repoID).Msg("failed to cascade-delete repo state")
	}
	return nil
}

// RevertLastCommit reverts trunk's tip in git and resyncs the commit log.
func (s *Sync) RevertLastCommit(ctx context.Context, repoID string) (string, error) {
	newHead, err := s.Engine.RevertLastCommit(ctx, repoID)
	if err != nil {
		return "", err
	}
	if err := s.syncCommits(ctx, repoID, 100); err != nil {
		s.log.Warn().Err(err).Str("repo_id", repoID).Msg("failed to sync commits after revert")
	}
	return newHead, nil
}

// syncCommits mirrors up to limit of trunk's commits from git into state's
// bounded commit ring, skipping trunk commits already recorded there and
// recording the rest oldest first so the log stays newest first.
func (s *Sync) syncCommits(ctx context.Context, repoID string, limit int) error {
	history, err := s.Engine.GetHistory(ctx, repoID, limit)
	if err != nil {
		return fmt.Errorf("gitsync: read history: %w", err)
	}
	existing, err := s.State.GetCommits(ctx, repoID, 0)
	if err != nil {
		return fmt.Errorf("gitsync: read recorded commits: %w", err)
	}
	recorded := make(map[string]bool, len(existing))
	for _, c := range existing {
		if c.IsTrunk {
			recorded[c.SHA] = true
		}
	}
	for i := len(history) - 1; i >= 0; i-- {
		c := history[i]
		if recorded[c.Hash] {
			continue
		}
		node := state.CommitNode{
			SHA: c.Hash, ShortSHA: shortSHA(c.Hash), Message: c.Subject,
			Author: c.Author, Timestamp: c.Date, IsTrunk: true,
		}
		if err := s.State.RecordCommit(ctx, repoID, node); err != nil {
			return fmt.Errorf("gitsync: record commit %s: %w", shortSHA(c.Hash), err)
		}
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// SyncAll re-derives state from git's current reality for every registered
// repository and workpad — the recovery path when state and git may have
// drifted (a crash mid-mutation, manual state-file edits, ...).
func (s *Sync) SyncAll(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	repos := s.Engine.ListRepositories()
	for _, repo := range repos {
		if _, err := s.State.GetRepository(ctx, repo.ID); err != nil {
			if err := s.syncNewRepo(ctx, repo); err != nil {
				return stats, err
			}
			stats.Repos++
		} else if err := s.syncCommits(ctx, repo.ID, 100); err != nil {
			s.log.Warn().Err(err).Str("repo_id", repo.ID).Msg("failed to resync commits")
		}

		commits, err := s.State.GetCommits(ctx, repo.ID, 0)
		if err != nil {
			return stats, fmt.Errorf("gitsync: read synced commits: %w", err)
		}
		stats.Commits += len(commits)

		for _, pad := range s.Engine.ListWorkpads(repo.ID) {
			if _, err := s.State.GetWorkpad(ctx, pad.ID); err != nil {
				if _, err := s.State.CreateWorkpad(ctx, pad.ID, pad.RepoID, pad.Title, pad.Branch, pad.BaseCommit); err != nil {
					return stats, fmt.Errorf("gitsync: sync workpad %s: %w", pad.ID, err)
				}
				stats.Workpads++
			}
		}
	}
	return stats, nil
}

// SyncStats reports what SyncAll did: Repos and Workpads count the records it
// newly mirrored into state; Commits sums the size of every repository's
// commit log in state after the pass.
type SyncStats struct {
	Repos    int
	Workpads int
	Commits  int
}

// GetActiveContext returns the current active repo/workpad pointers.
func (s *Sync) GetActiveContext(ctx context.Context) (*state.GlobalState, error) {
	return s.State.GetActiveContext(ctx)
}

// SetActiveContext updates the active repo/workpad pointers.
func (s *Sync) SetActiveContext(ctx context.Context, repoID, workpadID string) (*state.GlobalState, error) {
	return s.State.SetActiveContext(ctx, repoID, workpadID)
}
