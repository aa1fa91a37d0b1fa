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

package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Molam-git/molam-connect-sub004/config"
)

// Registry resolves the connector for a payout. Resolution order is exact
// connector id, then the rail's default, then the engine-wide default.
type Registry struct {
	mu               sync.RWMutex
	byName           map[string]BankConnector
	railDefaults     map[string]BankConnector
	defaultConnector BankConnector
}

func NewRegistry() *Registry {
	return &Registry{
		byName:       make(map[string]BankConnector),
		railDefaults: make(map[string]BankConnector),
	}
}

// NewRegistryFromConfig builds and registers a connector per configured
// entry. The first connector registered becomes the engine default unless a
// later entry is flagged Default.
func NewRegistryFromConfig(cfgs []config.ConnectorConfig) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range cfgs {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second

		var conn BankConnector
		switch cfg.Rail {
		case "ach":
			conn = NewACHConnector(cfg.Name, cfg.BaseUrl, cfg.ApiKey, timeout)
		case "wire":
			conn = NewWireConnector(cfg.Name, cfg.BaseUrl, cfg.ApiKey, timeout, cfg.CutoffHour)
		case "sepa":
			conn = NewSEPAConnector(cfg.Name, cfg.BaseUrl, cfg.ApiKey, timeout)
		default:
			return nil, fmt.Errorf("unknown rail %q for connector %q", cfg.Rail, cfg.Name)
		}

		r.Register(conn, cfg.Default)
	}
	return r, nil
}

// Register adds a connector. The first connector for a rail becomes that
// rail's default; engineDefault additionally makes it the engine-wide
// fallback.
func (r *Registry) Register(conn BankConnector, engineDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[conn.Name()] = conn
	if _, ok := r.railDefaults[conn.Rail()]; !ok {
		r.railDefaults[conn.Rail()] = conn
	}
	if engineDefault || r.defaultConnector == nil {
		r.defaultConnector = conn
	}
}

// Resolve picks the connector for a payout. An explicitly requested
// connector id that does not exist is an error rather than a silent
// fallback.
func (r *Registry) Resolve(connectorID, rail string) (BankConnector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if connectorID != "" {
		conn, ok := r.byName[connectorID]
		if !ok {
			return nil, fmt.Errorf("connector %q is not registered", connectorID)
		}
		return conn, nil
	}
	if conn, ok := r.railDefaults[rail]; ok {
		return conn, nil
	}
	if r.defaultConnector != nil {
		return r.defaultConnector, nil
	}
	return nil, fmt.Errorf("no connector registered for rail %q", rail)
}

// List returns all registered connectors.
func (r *Registry) List() []BankConnector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BankConnector, 0, len(r.byName))
	for _, conn := range r.byName {
		out = append(out, conn)
	}
	return out
}

// Health probes every registered connector. The map value is empty for a
// healthy connector, otherwise the probe error.
func (r *Registry) Health(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for _, conn := range r.List() {
		if err := conn.HealthCheck(ctx); err != nil {
			out[conn.Name()] = err.Error()
		} else {
			out[conn.Name()] = ""
		}
	}
	return out
}
