package config

import (
	"os"
	"testing"
)

func TestLoadDefaultsWithNoPropertiesFileOrEnv(t *testing.T) {
	t.Setenv("STAGE_PROPERTIES_PATH", "/nonexistent/path.properties")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerHost != defaultBrokerHost {
		t.Fatalf("expected default broker host, got %q", cfg.BrokerHost)
	}
	if cfg.BatchMaxSize != defaultBatchMaxSize {
		t.Fatalf("expected default batch max size, got %d", cfg.BatchMaxSize)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("STAGE_PROPERTIES_PATH", "/nonexistent/path.properties")
	t.Setenv("BROKER_HOST", "kafka-1:9092,kafka-2:9092")
	t.Setenv("CONTROLLER_ID", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerHost != "kafka-1:9092,kafka-2:9092" {
		t.Fatalf("expected env override, got %q", cfg.BrokerHost)
	}
	if cfg.ControllerID != 3 {
		t.Fatalf("expected controller id 3, got %d", cfg.ControllerID)
	}
}

func TestLoadPropertiesFileThenEnvOverride(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stage-*.properties")
	if err != nil {
		t.Fatalf("create temp properties file: %v", err)
	}
	if _, err := f.WriteString("broker_host=props-host:9092\nbatch_max_size=50\n"); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	f.Close()

	t.Setenv("STAGE_PROPERTIES_PATH", f.Name())
	t.Setenv("BATCH_MAX_SIZE", "200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerHost != "props-host:9092" {
		t.Fatalf("expected properties-file value, got %q", cfg.BrokerHost)
	}
	if cfg.BatchMaxSize != 200 {
		t.Fatalf("expected env to override properties file, got %d", cfg.BatchMaxSize)
	}
}
