package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: ""},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: ""},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Connectors: []ConnectorConfig{{Name: "wire-primary", Rail: "wire"}},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if cnf.Dispatch.BatchSize != 25 {
		t.Errorf("Expected default dispatch batch size 25, got %d", cnf.Dispatch.BatchSize)
	}
	if cnf.Reconciliation.MatchThreshold != 0.85 {
		t.Errorf("Expected default match threshold 0.85, got %f", cnf.Reconciliation.MatchThreshold)
	}
	if cnf.Queue.EventQueue != "new:payout_events" {
		t.Errorf("Expected default event queue, got %s", cnf.Queue.EventQueue)
	}
	if cnf.Connectors[0].CutoffHour != 16 {
		t.Errorf("Expected default cutoff hour 16, got %d", cnf.Connectors[0].CutoffHour)
	}
	if cnf.Connectors[0].TimeoutSec != 15 {
		t.Errorf("Expected default connector timeout 15, got %d", cnf.Connectors[0].TimeoutSec)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "molam.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "postgres://temp:5432"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
		Ledger:      LedgerConfig{Url: "http://ledger.local"},
	}

	if err := json.NewEncoder(tmpFile).Encode(&sampleConfig); err != nil {
		t.Fatalf("Unable to write sample config: %v", err)
	}
	tmpFile.Close()

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}

	cnf, err := Fetch()
	if err != nil {
		t.Fatalf("Expected config to be fetchable, got %v", err)
	}
	if cnf.ProjectName != "Temp Project" {
		t.Errorf("Expected project name from file, got %s", cnf.ProjectName)
	}
	if cnf.Ledger.Url != "http://ledger.local" {
		t.Errorf("Expected ledger url from file, got %s", cnf.Ledger.Url)
	}
	if cnf.Dispatch.PollIntervalSec != 5 {
		t.Errorf("Expected default poll interval, got %d", cnf.Dispatch.PollIntervalSec)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	os.Setenv("MOLAM_DATA_SOURCE_DNS", "postgres://env:5432")
	os.Setenv("MOLAM_REDIS_DNS", "env-redis:6379")
	defer os.Unsetenv("MOLAM_DATA_SOURCE_DNS")
	defer os.Unsetenv("MOLAM_REDIS_DNS")

	if err := loadConfigFromFile("nonexistent.json"); err != nil {
		t.Fatalf("Expected env-only config to load, got %v", err)
	}

	cnf, err := Fetch()
	if err != nil {
		t.Fatalf("Expected config to be fetchable, got %v", err)
	}
	if cnf.DataSource.Dns != "postgres://env:5432" {
		t.Errorf("Expected env data source dns, got %s", cnf.DataSource.Dns)
	}
	if cnf.Redis.Dns != "env-redis:6379" {
		t.Errorf("Expected env redis dns, got %s", cnf.Redis.Dns)
	}
}
