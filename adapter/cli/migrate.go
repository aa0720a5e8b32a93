package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diaguru/diaguru/internal/shared/infrastructure/database"
	_ "github.com/diaguru/diaguru/internal/shared/infrastructure/database/postgres" // driver registration
	_ "github.com/diaguru/diaguru/internal/shared/infrastructure/database/sqlite"   // driver registration
	"github.com/diaguru/diaguru/internal/shared/infrastructure/migrations"
	"github.com/diaguru/diaguru/pkg/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		conn, err := database.NewConnection(cmd.Context(), database.Config{
			Driver:     database.Driver(cfg.DatabaseDriver),
			URL:        cfg.DatabaseURL,
			SQLitePath: cfg.SQLitePath,
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := migrations.Run(cmd.Context(), conn); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
