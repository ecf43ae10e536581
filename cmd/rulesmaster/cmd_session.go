package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Publish identity and lifecycle events",
	Long: `Publish the events the app emits on sign-in, foreground and sign-out.
Handlers run in this process; with the redis cache the events also reach
running workers.

Available subcommands:
  signin     - Publish user_authenticated (runs the migration)
  foreground - Publish app_foregrounded (refreshes progress, uploads pending quizzes)
  signout    - Publish user_signed_out (drains background writes)`,
}

func sessionEvent(build func(userID string, at time.Time) shared.Event) func(*cobra.Command, []string) error {
	return withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		event := build(userID, time.Now().UTC())
		if err := a.bus.Publish(cmd.Context(), event); err != nil {
			return err
		}
		printf(cmd, "published %s for %s\n", event.EventType(), userID)
		return nil
	})
}

var sessionSigninCmd = &cobra.Command{
	Use:   "signin",
	Short: "Publish user_authenticated",
	RunE: sessionEvent(func(u string, at time.Time) shared.Event {
		return shared.NewUserAuthenticatedEvent(u, at)
	}),
}

var sessionForegroundCmd = &cobra.Command{
	Use:   "foreground",
	Short: "Publish app_foregrounded",
	RunE: sessionEvent(func(u string, at time.Time) shared.Event {
		return shared.NewAppForegroundedEvent(u, at)
	}),
}

var sessionSignoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Publish user_signed_out",
	RunE: sessionEvent(func(u string, at time.Time) shared.Event {
		return shared.NewUserSignedOutEvent(u, at)
	}),
}

func init() {
	sessionCmd.AddCommand(sessionSigninCmd, sessionForegroundCmd, sessionSignoutCmd)
}
