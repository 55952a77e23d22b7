package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "sologit",
	Short: "sologit — a solo-developer git workflow orchestrator",
	Long: `sologit manages disposable git workpads against a protected trunk: apply a
patch, run its tests, and let the promotion gate decide whether it merges,
needs manual review, or gets rejected.

State is stored under --state-dir (JSON by default). The git engine owns
each repository's working tree under its own root directory.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("git-root", ".sologit/repos", "directory holding git-managed repositories and their registry")
	rootCmd.PersistentFlags().String("state-dir", ".sologit/state", "directory holding JSON state records")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(padCmd)
}
