/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/dealport/settle"
	"github.com/dealport/settle/database"
)

func migrateCommands(s *settleInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run settle database migrations",
	}

	cmd.AddCommand(migrateCommand(s, "up", migrate.Up))
	cmd.AddCommand(migrateCommand(s, "down", migrate.Down))

	return cmd
}

// migrateCommand applies the embedded migrations in one direction. Both
// directions track their state in the settle schema.
func migrateCommand(s *settleInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: settle.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(s.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetSchema("settle")
			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Applied %d migrations %s!\n", n, use)
		},
	}
}
