package cli

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // database/sql driver for the migrate command
	"github.com/spf13/cobra"

	"github.com/bibliokit/circulation-go/circulation/postgresengine"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Apply the circulation schema to the configured Postgres database.

Every statement is idempotent (CREATE TABLE IF NOT EXISTS), so migrate can be
re-run safely.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	logger := newLogger(opts)

	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return fmt.Errorf("opening database failed: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("closing database failed", "error", closeErr)
		}
	}()

	if err = db.PingContext(cmd.Context()); err != nil {
		return fmt.Errorf("database is not reachable: %w", err)
	}

	logger.Info("applying schema")

	if _, err = db.ExecContext(cmd.Context(), postgresengine.Schema); err != nil {
		return fmt.Errorf("applying schema failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")

	return nil
}
