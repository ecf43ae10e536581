package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Read and record lesson progress",
	Long: `Read and record per-game lesson progress.

Available subcommands:
  get         - Show progress (cache first, refreshed in the background)
  complete    - Mark a concept completed
  completions - List the cached completion log
  clear       - Delete every cached progress snapshot`,
}

var progressGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show progress for a game",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		gameID, err := requireGame()
		if err != nil {
			return err
		}

		p, err := a.progress.GetProgress(cmd.Context(), userID, gameID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		printf(cmd, "game:      %s\n", p.GameID)
		printf(cmd, "completed: %s\n", strings.Join(p.CompletedConcepts, ", "))
		printf(cmd, "current:   %s\n", p.CurrentConcept)
		printf(cmd, "xp:        %d\n", p.TotalXP)
		printf(cmd, "streak:    %d\n", p.Streak)
		return nil
	}),
}

var progressCompleteCmd = &cobra.Command{
	Use:   "complete <concept-id>",
	Short: "Mark a concept completed",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		gameID, err := requireGame()
		if err != nil {
			return err
		}

		out, err := a.progress.CompleteLesson(cmd.Context(), userID, gameID, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), out)
		}
		if !out.Applied {
			printf(cmd, "%s was already completed\n", args[0])
			return nil
		}
		printf(cmd, "+%d XP (total %d, streak %d)\n", out.Completion.XPEarned, out.Progress.TotalXP, out.Progress.Streak)
		return nil
	}),
}

var progressCompletionsCmd = &cobra.Command{
	Use:   "completions",
	Short: "List the cached completion log of a game",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		gameID, err := requireGame()
		if err != nil {
			return err
		}

		completions, err := a.progress.GetCompletions(cmd.Context(), userID, gameID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), completions)
		}
		for _, c := range completions {
			printf(cmd, "%s  %-24s +%d\n", c.CompletedAt.Format("2006-01-02 15:04"), c.ConceptID, c.XPEarned)
		}
		return nil
	}),
}

var progressClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached progress snapshot",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if err := a.progress.ClearAll(cmd.Context()); err != nil {
			return err
		}
		printf(cmd, "cached progress cleared\n")
		return nil
	}),
}

func init() {
	progressCmd.AddCommand(progressGetCmd, progressCompleteCmd, progressCompletionsCmd, progressClearCmd)
}
