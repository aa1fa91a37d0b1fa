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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	payouts "github.com/Molam-git/molam-connect-sub004"
	"github.com/Molam-git/molam-connect-sub004/config"
	"github.com/Molam-git/molam-connect-sub004/database"
	"github.com/Molam-git/molam-connect-sub004/internal/notification"
)

// CLI encapsulates the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// appInstance holds the engine instance and its configuration, shared by all
// subcommands.
type appInstance struct {
	payouts *payouts.Payouts
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the engine before running any
// command.
func preRun(app *appInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("molam.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupEngine(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.payouts = engine
		app.cnf = cnf

		return nil
	}
}

// setupEngine connects the data source and builds the payout engine.
func setupEngine(cfg *config.Configuration) (*payouts.Payouts, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	engine, err := payouts.NewPayouts(db)
	if err != nil {
		return nil, fmt.Errorf("error creating payout engine: %v", err)
	}
	return engine, nil
}

// NewCLI creates the command-line interface with the workers and migrate
// subcommands.
func NewCLI() *CLI {
	var configFile string
	app := &appInstance{}

	var rootCmd = &cobra.Command{
		Use:   "molam-payouts",
		Short: "Payout dispatch and settlement engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./molam.json", "Configuration file for the payout engine")
	rootCmd.PersistentPreRunE = preRun(app)

	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands())

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
