package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solo-git/sologit/internal/automerge"
	"github.com/solo-git/sologit/internal/config"
	"github.com/solo-git/sologit/internal/gate"
	"github.com/solo-git/sologit/internal/testrun"
)

var padCmd = &cobra.Command{
	Use:   "pad",
	Short: "Manage workpads: disposable branches tested against trunk",
}

var padNewCmd = &cobra.Command{
	Use:   "new [repo-id] [title]",
	Short: "Create a workpad branched off trunk's current tip",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		pad, err := sync.CreateWorkpad(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "workpad %s created (id %s, branch %s)\n", pad.Title, pad.ID, pad.Branch)
		return nil
	},
}

var padApplyCmd = &cobra.Command{
	Use:   "apply [pad-id] [patch-file]",
	Short: "Apply a unified diff to a workpad",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading patch file: %w", err)
		}
		message, _ := cmd.Flags().GetString("message")
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		commit, err := sync.ApplyPatch(cmd.Context(), args[0], string(patch), message)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied; new workpad head %s\n", commit[:8])
		return nil
	},
}

// parseTestFlag turns a repeated "name=command" flag value into a testrun.Spec.
func parseTestFlag(raw string) (testrun.Spec, error) {
	name, command, ok := strings.Cut(raw, "=")
	if !ok || name == "" || command == "" {
		return testrun.Spec{}, fmt.Errorf("invalid --test value %q, want name=command", raw)
	}
	return testrun.Spec{Name: name, Command: command}, nil
}

var padTestCmd = &cobra.Command{
	Use:   "test [pad-id]",
	Short: "Run the given test suites against a workpad and evaluate the promotion gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawTests, _ := cmd.Flags().GetStringArray("test")
		if len(rawTests) == 0 {
			return fmt.Errorf("at least one --test name=command is required")
		}
		specs := make([]testrun.Spec, 0, len(rawTests))
		for _, raw := range rawTests {
			spec, err := parseTestFlag(raw)
			if err != nil {
				return err
			}
			specs = append(specs, spec)
		}

		cfg, err := config.LoadDefault()
		if err != nil {
			cfg = &config.Config{}
		}
		promote, _ := cmd.Flags().GetBool("promote-on-green")

		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		pad, err := sync.Engine.GetWorkpad(args[0])
		if err != nil {
			return err
		}
		repo, err := sync.Engine.GetRepository(pad.RepoID)
		if err != nil {
			return err
		}

		wf := automerge.New(automerge.Options{
			Engine:         sync.Engine,
			State:          sync.State,
			Gate:           gate.New(),
			Specs:          specs,
			TestWorkDir:    func(string) string { return repo.Path },
			LogDir:         cfg.Tests.LogDir,
			ParallelN:      cfg.Tests.ParallelMax,
			MaxDiffLines:   2000,
			PromoteOnGreen: promote,
			Progress:       cmd.OutOrStdout(),
		})

		outcome, err := wf.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tests: %d passed, %d failed, %d errored, %d skipped\n",
			outcome.TestSummary.Passed, outcome.TestSummary.Failed, outcome.TestSummary.Errored, outcome.TestSummary.Skipped)
		fmt.Fprintf(cmd.OutOrStdout(), "gate decision: %s (%s)\n", outcome.GateResult.Decision, outcome.GateResult.Reason)
		if outcome.Promoted {
			fmt.Fprintf(cmd.OutOrStdout(), "promoted; new trunk head %s\n", outcome.NewTrunkHead[:8])
		}
		return nil
	},
}

var padPromoteCmd = &cobra.Command{
	Use:   "promote [pad-id]",
	Short: "Fast-forward trunk to a workpad's tip, bypassing the test gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		newHead, err := sync.PromoteWorkpad(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trunk promoted to %s\n", newHead[:8])
		return nil
	},
}

var padDiffCmd = &cobra.Command{
	Use:   "diff [pad-id]",
	Short: "Show a workpad's diff against its base commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, err := openSync(cmd)
		if err != nil {
			return err
		}
		diff, err := sync.Engine.GetDiff(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), diff)
		return nil
	},
}

func init() {
	padApplyCmd.Flags().String("message", "Apply patch", "commit message for the applied patch")
	padTestCmd.Flags().StringArray("test", nil, "name=command test suite to run (repeatable)")
	padTestCmd.Flags().Bool("promote-on-green", false, "automatically fast-forward trunk when the gate approves")

	padCmd.AddCommand(padNewCmd)
	padCmd.AddCommand(padApplyCmd)
	padCmd.AddCommand(padTestCmd)
	padCmd.AddCommand(padPromoteCmd)
	padCmd.AddCommand(padDiffCmd)
}
