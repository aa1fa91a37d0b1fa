/*
Copyright 2025 Molam Authors.

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
	"log"

	"github.com/spf13/cobra"

	"github.com/Molam-git/molam-connect-sub004/config"
	"github.com/Molam-git/molam-connect-sub004/database"
)

// migrateCommands creates the "migrate" command. Table creation is idempotent
// (CREATE TABLE IF NOT EXISTS), so migrate is safe to run on every deploy.
func migrateCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "create or update the payout schema",
		Run: func(cmd *cobra.Command, args []string) {
			cnf, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error fetching config: %v", err)
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Fatalf("Error running migrations: %v", err)
			}
			defer db.Close()

			log.Println("Migrations applied successfully")
		},
	}

	return cmd
}
