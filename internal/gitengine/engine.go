package gitengine

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/solo-git/sologit/internal/logging"
)

const trunkBranchName = "main"

// CommitInfo is a single entry in a repository's commit history, as exposed
// by GetHistory.
type CommitInfo struct {
	Hash    string
	Author  string
	Date    time.Time
	Subject string
}

// Status is a snapshot of a workpad's working tree relative to trunk.
type Status struct {
	Branch        string
	BaseCommit    string
	HeadCommit    string
	AheadOfBase   int
	IsFastForward bool
	Dirty         bool
}

// Engine manages the on-disk registry of repositories and workpads and
// drives the underlying git object stores. One Engine owns one root
// directory; every repo lives in its own subdirectory as a real git
// working tree, with one durable trunk and any number of workpad branches.
type Engine struct {
	root string
	git  GitRunner
	reg  *registry
	log  zerolog.Logger
}

// New creates an Engine rooted at dir, loading (or creating) its registry.
func New(dir string, git GitRunner) (*Engine, error) {
	if git == nil {
		git = &ExecGit{}
	}
	reg, err := loadRegistry(dir)
	if err != nil {
		return nil, fmt.Errorf("gitengine: load registry: %w", err)
	}
	return &Engine{root: dir, git: git, reg: reg, log: logging.For("gitengine")}, nil
}

func (e *Engine) repoPath(id string) string { return filepath.Join(e.root, "repos", id) }

func (e *Engine) mustRepo(id string) (*RepoMeta, error) {
	m, ok := e.reg.getRepo(id)
	if !ok {
		return nil, &NotFoundError{Kind: "repository", ID: id}
	}
	return m, nil
}

func (e *Engine) mustWorkpad(id string) (*WorkpadMeta, error) {
	m, ok := e.reg.getWorkpad(id)
	if !ok {
		return nil, &NotFoundError{Kind: "workpad", ID: id}
	}
	return m, nil
}

// CreateEmptyRepo initializes a new repository with a single empty commit on
// trunk — the "green field" path for starting a project with no prior history.
func (e *Engine) CreateEmptyRepo(ctx context.Context, name string) (*RepoMeta, error) {
	id := uuid.NewString()
	path := e.repoPath(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &EngineError{Op: "create empty repo", Err: err}
	}
	if _, err := e.git.Run(ctx, path, "init", "-b", trunkBranchName); err != nil {
		return nil, &EngineError{Op: "git init", Err: err}
	}
	if err := e.configureIdentity(ctx, path); err != nil {
		return nil, err
	}
	if _, err := e.git.Run(ctx, path, "commit", "--allow-empty", "-m", "initial commit"); err != nil {
		return nil, &EngineError{Op: "initial commit", Err: err}
	}
	meta := &RepoMeta{ID: id, Name: name, Path: path, TrunkBranch: trunkBranchName, CreatedAt: time.Now().UTC(), Source: "empty"}
	if err := e.reg.putRepo(meta); err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "persist repo metadata", Err: err}
	}
	e.log.Info().Str("repo_id", id).Str("name", name).Msg("repo created (empty)")
	return meta, nil
}

// InitFromGit clones an existing repository (local path or remote URL) and
// registers it, renaming the clone's checked-out branch to the trunk branch
// name when it differs.
func (e *Engine) InitFromGit(ctx context.Context, name, source string) (*RepoMeta, error) {
	id := uuid.NewString()
	path := e.repoPath(id)
	if _, err := e.git.Run(ctx, "", "clone", source, path); err != nil {
		return nil, &EngineError{Op: "git clone", Err: err}
	}
	if err := e.configureIdentity(ctx, path); err != nil {
		return nil, err
	}
	branch, err := e.git.Run(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "detect trunk branch", Err: err}
	}
	branch = strings.TrimSpace(branch)
	if branch != trunkBranchName {
		if _, err := e.git.Run(ctx, path, "branch", "-m", branch, trunkBranchName); err != nil {
			os.RemoveAll(path)
			return nil, &EngineError{Op: "rename trunk branch", Err: err}
		}
		branch = trunkBranchName
	}
	meta := &RepoMeta{ID: id, Name: name, Path: path, TrunkBranch: branch, CreatedAt: time.Now().UTC(), Source: "git:" + source}
	if err := e.reg.putRepo(meta); err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "persist repo metadata", Err: err}
	}
	e.log.Info().Str("repo_id", id).Str("source", source).Msg("repo created (git clone)")
	return meta, nil
}

// InitFromZip materializes an archive's contents as the initial commit of a
// new repository — the common "I have a tarball of code" onboarding path.
func (e *Engine) InitFromZip(ctx context.Context, name string, zipData []byte) (*RepoMeta, error) {
	id := uuid.NewString()
	path := e.repoPath(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &EngineError{Op: "create empty repo", Err: err}
	}
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "open zip", Err: err}
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dest := filepath.Join(path, f.Name)
		if !strings.HasPrefix(dest, filepath.Clean(path)+string(os.PathSeparator)) {
			os.RemoveAll(path)
			return nil, &EngineError{Op: "extract zip", Err: fmt.Errorf("unsafe path in archive: %s", f.Name)}
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			os.RemoveAll(path)
			return nil, &EngineError{Op: "extract zip", Err: err}
		}
		rc, err := f.Open()
		if err != nil {
			os.RemoveAll(path)
			return nil, &EngineError{Op: "extract zip", Err: err}
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			os.RemoveAll(path)
			return nil, &EngineError{Op: "extract zip", Err: err}
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			os.RemoveAll(path)
			return nil, &EngineError{Op: "extract zip", Err: copyErr}
		}
	}
	if _, err := e.git.Run(ctx, path, "init", "-b", trunkBranchName); err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "git init", Err: err}
	}
	if err := e.configureIdentity(ctx, path); err != nil {
		os.RemoveAll(path)
		return nil, err
	}
	if _, err := e.git.Run(ctx, path, "add", "-A"); err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "git add", Err: err}
	}
	if _, err := e.git.Run(ctx, path, "commit", "-m", "import from archive"); err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "initial commit", Err: err}
	}
	meta := &RepoMeta{ID: id, Name: name, Path: path, TrunkBranch: trunkBranchName, CreatedAt: time.Now().UTC(), Source: "zip"}
	if err := e.reg.putRepo(meta); err != nil {
		os.RemoveAll(path)
		return nil, &EngineError{Op: "persist repo metadata", Err: err}
	}
	e.log.Info().Str("repo_id", id).Msg("repo created (zip import)")
	return meta, nil
}

func (e *Engine) configureIdentity(ctx context.Context, path string) error {
	if _, err := e.git.Run(ctx, path, "config", "user.name", "sologit"); err != nil {
		return &EngineError{Op: "configure git identity", Err: err}
	}
	if _, err := e.git.Run(ctx, path, "config", "user.email", "sologit@localhost"); err != nil {
		return &EngineError{Op: "configure git identity", Err: err}
	}
	return nil
}

// slugify lowercases title and collapses any run of non-alphanumeric
// characters into a single hyphen, trimming leading/trailing hyphens. An
// empty or all-punctuation title slugifies to "pad".
func slugify(title string) string {
	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen && b.Len() > 0 {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "pad"
	}
	return slug
}

// CreateWorkpad branches a new workpad off trunk's current tip.
func (e *Engine) CreateWorkpad(ctx context.Context, repoID, title string) (*WorkpadMeta, error) {
	repo, err := e.mustRepo(repoID)
	if err != nil {
		return nil, err
	}
	base, err := e.git.Run(ctx, repo.Path, "rev-parse", repo.TrunkBranch)
	if err != nil {
		return nil, &EngineError{Op: "resolve trunk tip", Err: err}
	}
	id := uuid.NewString()
	branch := "pads/" + slugify(title) + "-" + id[:8]
	if _, err := e.git.Run(ctx, repo.Path, "branch", branch, base); err != nil {
		return nil, &EngineError{Op: "create workpad branch", Err: err}
	}
	meta := &WorkpadMeta{
		ID: id, RepoID: repoID, Title: title, Branch: branch,
		BaseCommit: base, Status: "active", CreatedAt: time.Now().UTC(),
	}
	if err := e.reg.putWorkpad(meta); err != nil {
		e.git.Run(ctx, repo.Path, "branch", "-D", branch)
		return nil, &EngineError{Op: "persist workpad metadata", Err: err}
	}
	e.log.Info().Str("repo_id", repoID).Str("workpad_id", id).Msg("workpad created")
	return meta, nil
}

// ApplyPatch applies a unified diff to a workpad's branch as a new commit.
// On failure the working tree is left untouched — `git apply` never
// partially applies a patch it rejects.
func (e *Engine) ApplyPatch(ctx context.Context, padID, patch, message string) (string, error) {
	pad, err := e.mustWorkpad(padID)
	if err != nil {
		return "", err
	}
	repo, err := e.mustRepo(pad.RepoID)
	if err != nil {
		return "", err
	}
	if _, err := e.git.Run(ctx, repo.Path, "checkout", pad.Branch); err != nil {
		return "", &EngineError{Op: "checkout workpad", Err: err}
	}
	if out, err := e.git.RunStdin(ctx, repo.Path, patch, "apply", "--check", "-"); err != nil {
		return "", &PatchApplyError{Output: out, Err: err}
	}
	if out, err := e.git.RunStdin(ctx, repo.Path, patch, "apply", "-"); err != nil {
		return "", &PatchApplyError{Output: out, Err: err}
	}
	if _, err := e.git.Run(ctx, repo.Path, "add", "-A"); err != nil {
		return "", &EngineError{Op: "stage patch", Err: err}
	}
	if message == "" {
		message = "apply patch"
	}
	if _, err := e.git.Run(ctx, repo.Path, "commit", "-m", message); err != nil {
		return "", &EngineError{Op: "commit patch", Err: err}
	}
	head, err := e.git.Run(ctx, repo.Path, "rev-parse", "HEAD")
	if err != nil {
		return "", &EngineError{Op: "resolve new head", Err: err}
	}
	e.log.Info().Str("workpad_id", padID).Str("commit", head).Msg("patch applied")
	return head, nil
}

// CanPromote reports whether a workpad's branch can fast-forward onto trunk:
// trunk must not have moved past the workpad's recorded base.
func (e *Engine) CanPromote(ctx context.Context, padID string) (bool, string, error) {
	pad, err := e.mustWorkpad(padID)
	if err != nil {
		return false, "", err
	}
	repo, err := e.mustRepo(pad.RepoID)
	if err != nil {
		return false, "", err
	}
	trunkHead, err := e.git.Run(ctx, repo.Path, "rev-parse", repo.TrunkBranch)
	if err != nil {
		return false, "", &EngineError{Op: "resolve trunk head", Err: err}
	}
	if trunkHead != pad.BaseCommit {
		return false, fmt.Sprintf("trunk has advanced to %s since workpad was based on %s", trunkHead, pad.BaseCommit), nil
	}
	return true, "", nil
}

// PromoteWorkpad fast-forwards trunk to the workpad's branch tip.
func (e *Engine) PromoteWorkpad(ctx context.Context, padID string) (string, error) {
	pad, err := e.mustWorkpad(padID)
	if err != nil {
		return "", err
	}
	repo, err := e.mustRepo(pad.RepoID)
	if err != nil {
		return "", err
	}
	ok, reason, err := e.CanPromote(ctx, padID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &CannotPromoteError{PadID: padID, Reason: reason}
	}
	if _, err := e.git.Run(ctx, repo.Path, "checkout", repo.TrunkBranch); err != nil {
		return "", &EngineError{Op: "checkout trunk", Err: err}
	}
	if _, err := e.git.Run(ctx, repo.Path, "merge", "--ff-only", pad.Branch); err != nil {
		return "", &EngineError{Op: "fast-forward trunk", Err: err}
	}
	newHead, err := e.git.Run(ctx, repo.Path, "rev-parse", repo.TrunkBranch)
	if err != nil {
		return "", &EngineError{Op: "resolve new trunk head", Err: err}
	}
	pad.Status = "promoted"
	if err := e.reg.putWorkpad(pad); err != nil {
		return "", &EngineError{Op: "persist promotion", Err: err}
	}
	e.log.Info().Str("workpad_id", padID).Str("trunk_head", newHead).Msg("workpad promoted")
	return newHead, nil
}

// RevertLastCommit reverts trunk's most recent commit with a new commit
// (never rewrites history) — used by the rollback handler after a red CI run.
func (e *Engine) RevertLastCommit(ctx context.Context, repoID string) (string, error) {
	repo, err := e.mustRepo(repoID)
	if err != nil {
		return "", err
	}
	if _, err := e.git.Run(ctx, repo.Path, "checkout", repo.TrunkBranch); err != nil {
		return "", &EngineError{Op: "checkout trunk", Err: err}
	}
	if _, err := e.git.Run(ctx, repo.Path, "revert", "--no-edit", "HEAD"); err != nil {
		return "", &EngineError{Op: "revert head", Err: err}
	}
	head, err := e.git.Run(ctx, repo.Path, "rev-parse", repo.TrunkBranch)
	if err != nil {
		return "", &EngineError{Op: "resolve reverted head", Err: err}
	}
	e.log.Info().Str("repo_id", repoID).Str("commit", head).Msg("trunk commit reverted")
	return head, nil
}

// DeleteWorkpad removes a workpad's branch and its registry entry.
func (e *Engine) DeleteWorkpad(ctx context.Context, padID string) error {
	pad, err := e.mustWorkpad(padID)
	if err != nil {
		return err
	}
	repo, err := e.mustRepo(pad.RepoID)
	if err != nil {
		return err
	}
	if _, err := e.git.Run(ctx, repo.Path, "checkout", repo.TrunkBranch); err != nil {
		return &EngineError{Op: "checkout trunk", Err: err}
	}
	if _, err := e.git.Run(ctx, repo.Path, "branch", "-D", pad.Branch); err != nil {
		return &EngineError{Op: "delete workpad branch", Err: err}
	}
	if err := e.reg.deleteWorkpad(padID); err != nil {
		return &EngineError{Op: "remove workpad metadata", Err: err}
	}
	e.log.Info().Str("workpad_id", padID).Msg("workpad deleted")
	return nil
}

// DeleteRepository removes a repository's working tree and all of its
// workpads from the registry.
func (e *Engine) DeleteRepository(ctx context.Context, repoID string) error {
	repo, err := e.mustRepo(repoID)
	if err != nil {
		return err
	}
	for _, pad := range e.reg.listWorkpadsByRepo(repoID) {
		if err := e.reg.deleteWorkpad(pad.ID); err != nil {
			return &EngineError{Op: "remove workpad metadata", Err: err}
		}
	}
	if err := os.RemoveAll(repo.Path); err != nil {
		return &EngineError{Op: "remove repo working tree", Err: err}
	}
	if err := e.reg.deleteRepo(repoID); err != nil {
		return &EngineError{Op: "remove repo metadata", Err: err}
	}
	e.log.Info().Str("repo_id", repoID).Msg("repository deleted")
	return nil
}

// GetDiff returns the unified diff of a workpad's branch against its base commit.
func (e *Engine) GetDiff(ctx context.Context, padID string) (string, error) {
	pad, err := e.mustWorkpad(padID)
	if err != nil {
		return "", err
	}
	repo, err := e.mustRepo(pad.RepoID)
	if err != nil {
		return "", err
	}
	diff, err := e.git.Run(ctx, repo.Path, "diff", pad.BaseCommit, pad.Branch)
	if err != nil {
		return "", &EngineError{Op: "diff workpad", Err: err}
	}
	return diff, nil
}

// GetHistory returns trunk's commit log, most recent first.
func (e *Engine) GetHistory(ctx context.Context, repoID string, limit int) ([]CommitInfo, error) {
	repo, err := e.mustRepo(repoID)
	if err != nil {
		return nil, err
	}
	const sep = "\x1f"
	args := []string{"log", "--pretty=format:%H" + sep + "%an" + sep + "%aI" + sep + "%s", repo.TrunkBranch}
	if limit > 0 {
		args = append(args, fmt.Sprintf("-n%d", limit))
	}
	out, err := e.git.Run(ctx, repo.Path, args...)
	if err != nil {
		return nil, &EngineError{Op: "read history", Err: err}
	}
	if out == "" {
		return nil, nil
	}
	lines := strings.Split(out, "\n")
	history := make([]CommitInfo, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, sep, 4)
		if len(parts) != 4 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, parts[2])
		history = append(history, CommitInfo{Hash: parts[0], Author: parts[1], Date: ts, Subject: parts[3]})
	}
	return history, nil
}

// GetStatus reports a workpad's position relative to trunk.
func (e *Engine) GetStatus(ctx context.Context, padID string) (*Status, error) {
	pad, err := e.mustWorkpad(padID)
	if err != nil {
		return nil, err
	}
	repo, err := e.mustRepo(pad.RepoID)
	if err != nil {
		return nil, err
	}
	trunkHead, err := e.git.Run(ctx, repo.Path, "rev-parse", repo.TrunkBranch)
	if err != nil {
		return nil, &EngineError{Op: "resolve trunk head", Err: err}
	}
	padHead, err := e.git.Run(ctx, repo.Path, "rev-parse", pad.Branch)
	if err != nil {
		return nil, &EngineError{Op: "resolve workpad head", Err: err}
	}
	countOut, err := e.git.Run(ctx, repo.Path, "rev-list", "--count", pad.BaseCommit+".."+pad.Branch)
	if err != nil {
		return nil, &EngineError{Op: "count workpad commits", Err: err}
	}
	var ahead int
	fmt.Sscanf(countOut, "%d", &ahead)
	dirtyOut, err := e.git.Run(ctx, repo.Path, "status", "--porcelain")
	if err != nil {
		return nil, &EngineError{Op: "read working tree status", Err: err}
	}
	return &Status{
		Branch:        pad.Branch,
		BaseCommit:    pad.BaseCommit,
		HeadCommit:    padHead,
		AheadOfBase:   ahead,
		IsFastForward: trunkHead == pad.BaseCommit,
		Dirty:         strings.TrimSpace(dirtyOut) != "",
	}, nil
}

// ListRepositories returns every registered repository, newest first.
func (e *Engine) ListRepositories() []*RepoMeta {
	repos := e.reg.listRepos()
	sort.Slice(repos, func(i, j int) bool { return repos[i].CreatedAt.After(repos[j].CreatedAt) })
	return repos
}

// ListWorkpads returns every workpad registered under a repository.
func (e *Engine) ListWorkpads(repoID string) []*WorkpadMeta {
	pads := e.reg.listWorkpadsByRepo(repoID)
	sort.Slice(pads, func(i, j int) bool { return pads[i].CreatedAt.After(pads[j].CreatedAt) })
	return pads
}

// GetRepository looks up a single repository by ID.
func (e *Engine) GetRepository(id string) (*RepoMeta, error) { return e.mustRepo(id) }

// GetWorkpad looks up a single workpad by ID.
func (e *Engine) GetWorkpad(id string) (*WorkpadMeta, error) { return e.mustWorkpad(id) }
