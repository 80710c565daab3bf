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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dealport/settle"
	"github.com/dealport/settle/config"
	"github.com/dealport/settle/database"
	"github.com/dealport/settle/internal/notification"
)

type Settle struct {
	cmd *cobra.Command
}

// settleInstance carries the service and its configuration into every command.
type settleInstance struct {
	settle *settle.Settle
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command runs.
func preRun(app *settleInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newSettle, err := setupSettle(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.settle = newSettle
		app.cnf = cnf
		return nil
	}
}

func setupSettle(cfg *config.Configuration) (*settle.Settle, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newSettle, err := settle.NewSettle(db)
	if err != nil {
		return nil, fmt.Errorf("error creating settle: %v", err)
	}
	return newSettle, nil
}

func NewCLI() *Settle {
	var configFile string
	s := &settleInstance{}

	var rootCmd = &cobra.Command{
		Use:   "settle",
		Short: "Order settlement and wallet service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./settle.json", "Configuration file for settle")
	rootCmd.PersistentPreRunE = preRun(s, &configFile)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))
	rootCmd.AddCommand(migrateCommands(s))
	rootCmd.AddCommand(configCommands())

	return &Settle{cmd: rootCmd}
}

func (w Settle) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
