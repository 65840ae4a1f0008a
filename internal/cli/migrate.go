package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/db"
	"github.com/angelmondragon/apexlabs-backend/pkg/migrate"
)

// NewMigrateCommand groups the goose schema commands. Only create and
// validate work without a database.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the orders schema",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "migrations directory for create and validate")

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check migration names and goose markers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrate.Validate(os.DirFS(dir)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	})

	for _, goose := range []struct{ use, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Print applied and pending migrations"},
	} {
		command := goose.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: goose.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPostgres(rootOpts, cmd, func(client *db.Client) error {
					sqlDB, err := client.DB().DB()
					if err != nil {
						return err
					}
					return migrate.Run(cmd.Context(), sqlDB, command)
				})
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version <YYYYMMDDHHMMSS>",
		Short: "Migrate up or down to a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPostgres(rootOpts, cmd, func(client *db.Client) error {
				sqlDB, err := client.DB().DB()
				if err != nil {
					return err
				}
				return migrate.MigrateToVersion(cmd.Context(), sqlDB, args[0])
			})
		},
	})

	return cmd
}

func withPostgres(rootOpts *RootOptions, cmd *cobra.Command, fn func(*db.Client) error) error {
	cfg, err := rootOpts.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.DB.Driver == config.DBDriverSQLite {
		return fmt.Errorf("goose migrations target postgres; sqlite stores get their schema on startup")
	}
	client, err := db.New(cmd.Context(), cfg.DB, commandLogger(rootOpts, cmd, cfg))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}
