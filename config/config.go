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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"MOLAM_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"MOLAM_REDIS_DNS"`
}

type LedgerConfig struct {
	Url        string `json:"url" envconfig:"MOLAM_LEDGER_URL"`
	AuthToken  string `json:"auth_token" envconfig:"MOLAM_LEDGER_AUTH_TOKEN"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"MOLAM_LEDGER_TIMEOUT_SEC"`
}

type RoutingConfig struct {
	Url                    string `json:"url" envconfig:"MOLAM_ROUTING_URL"`
	TimeoutSec             int    `json:"timeout_sec" envconfig:"MOLAM_ROUTING_TIMEOUT_SEC"`
	DefaultTreasuryAccount string `json:"default_treasury_account" envconfig:"MOLAM_ROUTING_DEFAULT_TREASURY_ACCOUNT"`
}

type DispatchConfig struct {
	BatchSize         int `json:"batch_size" envconfig:"MOLAM_DISPATCH_BATCH_SIZE"`
	PollIntervalSec   int `json:"poll_interval_sec" envconfig:"MOLAM_DISPATCH_POLL_INTERVAL_SEC"`
	SubmitTimeoutSec  int `json:"submit_timeout_sec" envconfig:"MOLAM_DISPATCH_SUBMIT_TIMEOUT_SEC"`
	StuckThresholdMin int `json:"stuck_threshold_min" envconfig:"MOLAM_DISPATCH_STUCK_THRESHOLD_MIN"`
}

type ReconciliationConfig struct {
	PollIntervalSec int     `json:"poll_interval_sec" envconfig:"MOLAM_RECON_POLL_INTERVAL_SEC"`
	BatchSize       int     `json:"batch_size" envconfig:"MOLAM_RECON_BATCH_SIZE"`
	MatchThreshold  float64 `json:"match_threshold" envconfig:"MOLAM_RECON_MATCH_THRESHOLD"`
	DateDriftHours  int     `json:"date_drift_hours" envconfig:"MOLAM_RECON_DATE_DRIFT_HOURS"`
}

// ConnectorConfig describes one bank connector instance. Rail is one of
// ach/wire/sepa; Default marks the rail's fallback connector.
type ConnectorConfig struct {
	Name       string `json:"name"`
	Rail       string `json:"rail"`
	BaseUrl    string `json:"base_url"`
	ApiKey     string `json:"api_key"`
	TimeoutSec int    `json:"timeout_sec"`
	CutoffHour int    `json:"cutoff_hour"`
	Default    bool   `json:"default"`
}

type QueueConfig struct {
	EventQueue string `json:"event_queue" envconfig:"MOLAM_QUEUE_EVENT_QUEUE"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"MOLAM_PROJECT_NAME"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Ledger         LedgerConfig         `json:"ledger"`
	Routing        RoutingConfig        `json:"routing"`
	Dispatch       DispatchConfig       `json:"dispatch"`
	Reconciliation ReconciliationConfig `json:"reconciliation"`
	Connectors     []ConnectorConfig    `json:"connectors"`
	Queue          QueueConfig          `json:"queue"`
	Notification   Notification         `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("molam", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called molam.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Molam Payout Engine"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Ledger.TimeoutSec <= 0 {
		cnf.Ledger.TimeoutSec = 10
	}
	if cnf.Routing.TimeoutSec <= 0 {
		cnf.Routing.TimeoutSec = 3
	}
	if cnf.Routing.DefaultTreasuryAccount == "" {
		cnf.Routing.DefaultTreasuryAccount = "treasury_main"
	}

	if cnf.Dispatch.BatchSize <= 0 {
		cnf.Dispatch.BatchSize = 25
	}
	if cnf.Dispatch.PollIntervalSec <= 0 {
		cnf.Dispatch.PollIntervalSec = 5
	}
	if cnf.Dispatch.SubmitTimeoutSec <= 0 {
		cnf.Dispatch.SubmitTimeoutSec = 30
	}
	if cnf.Dispatch.StuckThresholdMin <= 0 {
		cnf.Dispatch.StuckThresholdMin = 10
	}

	if cnf.Reconciliation.PollIntervalSec <= 0 {
		cnf.Reconciliation.PollIntervalSec = 60
	}
	if cnf.Reconciliation.BatchSize <= 0 {
		cnf.Reconciliation.BatchSize = 100
	}
	if cnf.Reconciliation.MatchThreshold <= 0 {
		cnf.Reconciliation.MatchThreshold = 0.85
	}
	if cnf.Reconciliation.DateDriftHours <= 0 {
		cnf.Reconciliation.DateDriftHours = 48
	}

	if cnf.Queue.EventQueue == "" {
		cnf.Queue.EventQueue = "new:payout_events"
	}

	for i := range cnf.Connectors {
		if cnf.Connectors[i].TimeoutSec <= 0 {
			cnf.Connectors[i].TimeoutSec = 15
		}
		if cnf.Connectors[i].CutoffHour <= 0 {
			cnf.Connectors[i].CutoffHour = 16
		}
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.validateAndAddDefaults() //nolint:errcheck
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
