package main

import (
	"fmt"

	"github.com/spf13/cobra"

	datastore "github.com/hydrowatch/alertengine/internal/datastore/v2"
)

func migrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, _, closers, err := loadSettings(flags.configPath)
			if err != nil {
				return err
			}
			defer func() {
				for _, c := range closers {
					_ = c.Close()
				}
			}()

			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d table(s) on %s\n", len(datastore.Models()), store.Driver())
			return nil
		},
	}
}
