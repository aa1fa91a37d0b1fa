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
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	payouts "github.com/Molam-git/molam-connect-sub004"
	"github.com/Molam-git/molam-connect-sub004/config"
)

// initializeWorkerServer builds the asynq server that delivers payout events.
func initializeWorkerServer(conf *config.Configuration) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: conf.Redis.Dns},
		asynq.Config{
			Concurrency: 3,
			Queues:      map[string]int{conf.Queue.EventQueue: 3},
		},
	)
}

// workerCommands defines the "workers" command. It runs the full worker set:
// the dispatch loop, the stuck payout watchdog, the settlement matcher and
// the event delivery consumer.
func workerCommands(app *appInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payout workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error fetching config: %v", err)
			}

			dispatcher := payouts.NewDispatchWorker(app.payouts)
			watchdog := payouts.NewStuckPayoutWatchdog(app.payouts)
			matcher := payouts.NewSettlementMatcher(app.payouts)

			dispatcher.Start(ctx)
			watchdog.Start(ctx)
			matcher.Start(ctx)

			srv := initializeWorkerServer(conf)
			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.EventQueue, payouts.ProcessEvent)

			go func() {
				if err := srv.Run(mux); err != nil {
					logrus.Errorf("event worker stopped: %v", err)
					cancel()
				}
			}()

			log.Println(" [*] Payout workers running. To exit press CTRL+C")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-ctx.Done():
			}

			log.Println(" [*] Shutting down payout workers")
			srv.Shutdown()
			matcher.Stop()
			watchdog.Stop()
			dispatcher.Stop()
		},
	}

	return cmd
}
