package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage sologit repositories",
}

var repoInitCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new empty repository with a trunk branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		repo, err := sync.CreateEmptyRepo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "repository %s created (id %s, trunk %s)\n", repo.Name, repo.ID, repo.TrunkBranch)
		return nil
	},
}

var repoInitZipCmd = &cobra.Command{
	Use:   "init-zip [name] [zip-path]",
	Short: "Create a repository by importing a zip archive's contents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading zip archive: %w", err)
		}
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		repo, err := sync.InitRepoFromZip(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "repository %s created from zip (id %s, trunk %s)\n", repo.Name, repo.ID, repo.TrunkBranch)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		for _, repo := range sync.Engine.ListRepositories() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", repo.ID, repo.Name, repo.TrunkBranch)
		}
		return nil
	},
}

var repoHistoryCmd = &cobra.Command{
	Use:   "history [repo-id]",
	Short: "Show trunk's recent commit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		history, err := sync.Engine.GetHistory(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		for _, c := range history {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", c.Hash[:8], c.Author, c.Subject)
		}
		return nil
	},
}

func init() {
	repoHistoryCmd.Flags().Int("limit", 20, "maximum number of commits to show")
	repoCmd.AddCommand(repoInitCmd)
	repoCmd.AddCommand(repoInitZipCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoHistoryCmd)
}
