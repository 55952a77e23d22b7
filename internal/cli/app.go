package cli

import (
	"github.com/spf13/cobra"

	"github.com/solo-git/sologit/internal/gitengine"
	"github.com/solo-git/sologit/internal/gitsync"
	"github.com/solo-git/sologit/internal/state"
)

// openSync wires a gitengine.Engine and a state.Manager behind a gitsync.Sync
// using the process-wide --git-root/--state-dir flags. Every subcommand opens
// its own Sync rather than sharing one across the process — sologit is a
// one-shot CLI, not a long-lived server.
func openSync(cmd *cobra.Command) (*gitsync.Sync, error) {
	gitRoot, err := cmd.Flags().GetString("git-root")
	if err != nil {
		return nil, err
	}
	stateDir, err := cmd.Flags().GetString("state-dir")
	if err != nil {
		return nil, err
	}

	eng, err := gitengine.New(gitRoot, &gitengine.ExecGit{})
	if err != nil {
		return nil, err
	}
	backend, err := state.NewJSONBackend(stateDir)
	if err != nil {
		return nil, err
	}
	mgr := state.NewManager(backend)
	return gitsync.New(eng, mgr), nil
}
