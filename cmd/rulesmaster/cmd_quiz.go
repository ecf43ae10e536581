package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
)

var (
	quizScore     int
	quizTotal     int
	quizID        string
	quizTimeSpent int
	quizPassing   int
)

var quizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Submit and inspect quiz attempts",
	Long: `Submit and inspect quiz attempts.

Available subcommands:
  submit  - Record an attempt (a perfect attempt also completes the concept)
  history - List attempts for a concept
  best    - Show the best attempt
  last    - Show the most recent attempt
  stats   - Show attempt count, best score and pass state
  resync  - Upload attempts saved while offline
  clear   - Delete the cached history and pending uploads`,
}

var quizSubmitCmd = &cobra.Command{
	Use:   "submit <concept-id>",
	Short: "Record a quiz attempt",
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
		conceptID := args[0]
		if quizID == "" {
			quizID = "quiz-" + conceptID
		}

		passing := quizPassing
		if passing == 0 {
			passing = a.cfg.Quiz.DefaultPassingScore
		}
		result, err := quiz.NewQuizResult(quiz.NewResultParams{
			UserID:         userID,
			GameID:         gameID,
			ConceptID:      conceptID,
			QuizID:         quizID,
			Score:          quizScore,
			TotalQuestions: quizTotal,
			TimeSpent:      quizTimeSpent,
			CompletedAt:    time.Now().UTC(),
			PassingScore:   passing,
			BonusXP:        a.cfg.Quiz.BonusXP,
		})
		if err != nil {
			return err
		}
		if err := a.quizzes.SaveQuizResult(cmd.Context(), result); err != nil {
			return err
		}

		// A perfect attempt also completes the concept, as the quiz screen does.
		if result.PerfectScore {
			if _, err := a.progress.CompleteLesson(cmd.Context(), userID, gameID, conceptID); err != nil {
				return fmt.Errorf("quiz saved, lesson not completed: %w", err)
			}
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), result)
		}
		printf(cmd, "%d%% (%d/%d) passed=%t perfect=%t\n",
			result.Percentage, result.Score, result.TotalQuestions, result.Passed, result.PerfectScore)
		return nil
	}),
}

var quizHistoryCmd = &cobra.Command{
	Use:   "history <concept-id>",
	Short: "List attempts for a concept, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		history, err := a.quizzes.GetQuizHistory(cmd.Context(), userID, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), history)
		}
		for _, r := range history {
			printResult(cmd, &r)
		}
		return nil
	}),
}

var quizBestCmd = &cobra.Command{
	Use:   "best <concept-id>",
	Short: "Show the best attempt",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		best, err := a.quizzes.GetBestScore(cmd.Context(), userID, args[0])
		if err != nil {
			return err
		}
		return showResult(cmd, best)
	}),
}

var quizLastCmd = &cobra.Command{
	Use:   "last <concept-id>",
	Short: "Show the most recent attempt",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		last, err := a.quizzes.GetLastAttempt(cmd.Context(), userID, args[0])
		if err != nil {
			return err
		}
		return showResult(cmd, last)
	}),
}

var quizStatsCmd = &cobra.Command{
	Use:   "stats <concept-id>",
	Short: "Show attempt count, best score and pass state",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		stats, err := a.quizzes.GetStats(cmd.Context(), userID, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		printf(cmd, "attempts: %d\nbest:     %d%%\npassed:   %t\n", stats.Attempts, stats.BestPercentage, stats.Passed)
		return nil
	}),
}

var quizResyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Upload attempts saved while the remote store was unreachable",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		report, err := a.quizzes.SyncPending(cmd.Context())
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
				return perr
			}
		} else {
			printf(cmd, "uploaded %d of %d, %d still pending\n", report.Uploaded, report.Attempted, report.Remaining)
		}
		return err
	}),
}

var quizClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached quiz history, including pending uploads",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if err := a.quizzes.ClearHistory(cmd.Context()); err != nil {
			return err
		}
		printf(cmd, "cached quiz history cleared\n")
		return nil
	}),
}

func showResult(cmd *cobra.Command, r *quiz.QuizResult) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), r)
	}
	if r == nil {
		printf(cmd, "no attempts\n")
		return nil
	}
	printResult(cmd, r)
	return nil
}

func printResult(cmd *cobra.Command, r *quiz.QuizResult) {
	printf(cmd, "%s  %3d%%  %d/%d  passed=%t\n",
		r.CompletedAt.Format("2006-01-02 15:04"), r.Percentage, r.Score, r.TotalQuestions, r.Passed)
}

func init() {
	quizSubmitCmd.Flags().IntVar(&quizScore, "score", 0, "correct answers")
	quizSubmitCmd.Flags().IntVar(&quizTotal, "total", 0, "total questions")
	quizSubmitCmd.Flags().StringVar(&quizID, "quiz", "", "quiz id (default: quiz-<concept>)")
	quizSubmitCmd.Flags().IntVar(&quizTimeSpent, "time", 0, "seconds spent")
	quizSubmitCmd.Flags().IntVar(&quizPassing, "passing", 0, "passing percentage (default: QUIZ_PASSING_SCORE)")
	_ = quizSubmitCmd.MarkFlagRequired("total")

	quizCmd.AddCommand(quizSubmitCmd, quizHistoryCmd, quizBestCmd, quizLastCmd, quizStatsCmd, quizResyncCmd, quizClearCmd)
}
