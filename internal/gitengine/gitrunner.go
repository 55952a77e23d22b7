package gitengine

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitRunner executes a git subcommand in a working directory and returns its
// trimmed combined output. It's an interface rather than a direct exec.Command
// call so tests can substitute a fake without shelling out to a real git
// binary.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
	// RunStdin is Run with data piped to the subprocess's stdin, used for
	// `git apply` and `git commit-tree`-style invocations.
	RunStdin(ctx context.Context, dir string, stdin string, args ...string) (string, error)
}

// ExecGit implements GitRunner by shelling out to the real `git` binary.
type ExecGit struct{}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), trimmed, err)
	}
	return trimmed, nil
}

func (g *ExecGit) RunStdin(ctx context.Context, dir string, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), trimmed, err)
	}
	return trimmed, nil
}
