package cmd

import (
	"fmt"

	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"

	"github.com/tfproviders/provider-mirror/pkg/metadata"
)

var flagMigrateDatabaseDSN string

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&flagMigrateDatabaseDSN, "database-url", "", "PostgreSQL connection string for the metadata store")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending metadata store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagMigrateDatabaseDSN == "" {
			return fmt.Errorf("--database-url is required")
		}
		if err := metadata.Migrate(flagMigrateDatabaseDSN); err != nil {
			return err
		}
		level.Info(logger).Log("msg", "migrations applied")
		return nil
	},
}
