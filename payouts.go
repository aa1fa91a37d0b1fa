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

package payouts

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Molam-git/molam-connect-sub004/config"
	"github.com/Molam-git/molam-connect-sub004/connectors"
	"github.com/Molam-git/molam-connect-sub004/database"
	"github.com/Molam-git/molam-connect-sub004/internal/ledger"
	"github.com/Molam-git/molam-connect-sub004/internal/routing"
)

// Payouts is the main struct for the payout engine. It owns the datasource,
// the connector registry and the clients for the collaborating services.
type Payouts struct {
	datasource database.IDataSource
	registry   *connectors.Registry
	ledger     ledger.Service
	router     routing.Resolver
	queue      *Queue
	redis      redis.UniversalClient
}

// NewPayouts initializes the engine from configuration: redis client, event
// queue, connector registry and the ledger and routing clients.
func NewPayouts(db database.IDataSource) (*Payouts, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL("redis://" + configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(opts)

	registry, err := connectors.NewRegistryFromConfig(configuration.Connectors)
	if err != nil {
		return nil, err
	}

	ledgerClient := ledger.NewClient(
		configuration.Ledger.Url,
		configuration.Ledger.AuthToken,
		time.Duration(configuration.Ledger.TimeoutSec)*time.Second,
	)

	defaultRoute := routing.Route{TreasuryAccountID: configuration.Routing.DefaultTreasuryAccount}
	router := routing.NewClient(
		configuration.Routing.Url,
		time.Duration(configuration.Routing.TimeoutSec)*time.Second,
		defaultRoute,
	)

	return &Payouts{
		datasource: db,
		registry:   registry,
		ledger:     ledgerClient,
		router:     router,
		queue:      NewQueue(configuration),
		redis:      redisClient,
	}, nil
}

// Registry exposes the connector registry so callers can list connectors and
// probe their health.
func (p *Payouts) Registry() *connectors.Registry {
	return p.registry
}
