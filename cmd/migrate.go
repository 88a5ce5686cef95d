package cmd

import (
	"github.com/spf13/cobra"

	"docchat/src/log"
	"docchat/src/storage/relational"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the relational schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer relational.Close(db)

		if err := relational.AutoMigrate(db); err != nil {
			return err
		}
		log.Info("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
