// Command rulesmaster operates the progress and quiz history sync layer:
// reading and recording progress, submitting quiz attempts, running the
// sign-in migration and hosting the background sync worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

var (
	configPath string
	userFlag   string
	gameFlag   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "rulesmaster",
	Short: "Progress and quiz history sync for the RulesMaster tutorial app",
	Long: `rulesmaster keeps lesson progress and quiz history in a local durable
cache and reconciles it with the remote store.

Configuration is read from an optional YAML file (--config or
RULESMASTER_CONFIG), a .env file and the environment.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user id (default: APP_USER_ID)")
	rootCmd.PersistentFlags().StringVarP(&gameFlag, "game", "g", "", "game id")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(progressCmd, quizCmd, migrateCmd, sessionCmd, workerCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// Exit codes let scripts tell an offline remote apart from a broken cache.
const (
	exitFailure           = 1
	exitRemoteUnavailable = 3
	exitCacheFailure      = 4
)

func exitCode(err error) int {
	switch {
	case shared.IsRemoteUnavailable(err):
		return exitRemoteUnavailable
	case shared.IsCacheError(err):
		return exitCacheFailure
	default:
		return exitFailure
	}
}
