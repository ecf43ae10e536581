package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/postgres"
)

var (
	schemaStatus bool
	schemaDown   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Merge pre-sign-in progress into the signed-in account",
	Long: `Merge progress recorded before sign-in into the signed-in user's
remote record. Runs once per user on this device.

Available subcommands:
  run    - Run the migration now (no-op when already done)
  status - Show whether the migration already ran
  reset  - Clear the migrated flag so the next run merges again
  schema - Apply or roll back the Postgres schema (postgres remote only)`,
}

var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the migration for the user",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		res, err := a.migration.Migrate(cmd.Context(), userID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.AlreadyMigrated {
			printf(cmd, "already migrated\n")
			return nil
		}
		for _, g := range res.Games {
			printf(cmd, "%-16s created=%t new_completions=%d xp=%d streak=%d\n",
				g.GameID, g.Created, g.NewCompletions, g.Progress.TotalXP, g.Progress.Streak)
		}
		printf(cmd, "migrated %d game(s)\n", len(res.Games))
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the migration already ran for the user",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		done, err := a.migration.IsMigrated(cmd.Context(), userID)
		if err != nil {
			return err
		}
		printf(cmd, "migrated: %t\n", done)
		return nil
	}),
}

var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the migrated flag for the user",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		userID, err := a.userID()
		if err != nil {
			return err
		}
		return a.migration.ResetFlag(cmd.Context(), userID)
	}),
}

var migrateSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Apply pending Postgres schema migrations, or revert the last one",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if a.pg == nil {
			return errors.New("schema migrations need REMOTE_BACKEND=postgres")
		}
		m := postgres.NewMigrator(a.pg)

		if schemaStatus && schemaDown {
			return errors.New("--status and --down are mutually exclusive")
		}

		if schemaDown {
			version, err := m.Rollback(cmd.Context())
			if err != nil {
				return err
			}
			if version == 0 {
				printf(cmd, "no migrations applied\n")
				return nil
			}
			printf(cmd, "rolled back migration %04d\n", version)
			return nil
		}

		if schemaStatus {
			status, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range status {
				printf(cmd, "%04d  %-32s applied=%t\n", s.Version, s.Name, s.IsApplied)
			}
			return nil
		}

		applied, err := m.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		printf(cmd, "applied %d migration(s)\n", len(applied))
		return nil
	}),
}

func init() {
	migrateSchemaCmd.Flags().BoolVar(&schemaStatus, "status", false, "list migrations instead of applying them")
	migrateSchemaCmd.Flags().BoolVar(&schemaDown, "down", false, "revert the most recently applied migration")
	migrateCmd.AddCommand(migrateRunCmd, migrateStatusCmd, migrateResetCmd, migrateSchemaCmd)
}
