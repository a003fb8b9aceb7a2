package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lorawatch/lorawan-analyzer/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := config.New("")
	if err != nil {
		t.Fatalf("config.New returned error: %v", err)
	}

	if cfg.MQTT.Format != "protobuf" {
		t.Fatalf("expected default mqtt format protobuf, got %q", cfg.MQTT.Format)
	}
	if cfg.MQTT.Topic != "#" {
		t.Fatalf("expected default topic '#', got %q", cfg.MQTT.Topic)
	}
	if cfg.BatchSize != 1000 {
		t.Fatalf("expected default batch size 1000, got %d", cfg.BatchSize)
	}
	if cfg.FlushIntervalMS != 2000 {
		t.Fatalf("expected default flush interval 2000ms, got %d", cfg.FlushIntervalMS)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
mqtt:
  server: tcp://broker.example:1883
  topic: eu868/#
  format: json
postgres_url: postgres://db.example/lorawatch
mqtt_servers:
  - server: tcp://secondary.example:1883
    topic: us915/#
    format: protobuf
operators:
  - prefix: "26000000/7"
    name: Custom Operator
    priority: 50
  - name: Color Only Co
    color: "#ff0000"
hide_rules:
  - type: dev_addr
    prefix: "00000000/8"
    description: test devices
`

	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config yaml: %v", err)
	}

	cfg, err := config.New(yamlPath)
	if err != nil {
		t.Fatalf("config.New returned error: %v", err)
	}

	if cfg.MQTT.Server != "tcp://broker.example:1883" {
		t.Fatalf("expected overridden mqtt server, got %q", cfg.MQTT.Server)
	}
	if cfg.MQTT.Format != "json" {
		t.Fatalf("expected mqtt format json, got %q", cfg.MQTT.Format)
	}
	if cfg.PostgresURL != "postgres://db.example/lorawatch" {
		t.Fatalf("expected overridden postgres url, got %q", cfg.PostgresURL)
	}
	if len(cfg.MQTTServers) != 1 || cfg.MQTTServers[0].Topic != "us915/#" {
		t.Fatalf("expected one additional broker, got %+v", cfg.MQTTServers)
	}
	if len(cfg.Operators) != 2 {
		t.Fatalf("expected 2 operator entries, got %d", len(cfg.Operators))
	}
	if got := cfg.Operators[0].AllPrefixes(); len(got) != 1 || got[0] != "26000000/7" {
		t.Fatalf("expected single prefix for first operator, got %v", got)
	}
	if !cfg.Operators[1].IsColorOnly() {
		t.Fatalf("expected second operator entry to be color-only")
	}
	if len(cfg.HideRules) != 1 || cfg.HideRules[0].Type != "dev_addr" {
		t.Fatalf("expected one hide rule, got %+v", cfg.HideRules)
	}
	if cfg.ConfigPath != yamlPath {
		t.Fatalf("expected ConfigPath %q, got %q", yamlPath, cfg.ConfigPath)
	}
}

func TestOperatorConfigPrefixList(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
operators:
  - prefix: ["26000000/7", "27000000/7"]
    name: Multi Prefix Co
`
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config yaml: %v", err)
	}

	cfg, err := config.New(yamlPath)
	if err != nil {
		t.Fatalf("config.New returned error: %v", err)
	}

	got := cfg.Operators[0].AllPrefixes()
	if len(got) != 2 || got[0] != "26000000/7" || got[1] != "27000000/7" {
		t.Fatalf("expected two prefixes, got %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(yamlPath, []byte("mqtt:\n  server: tcp://file.example:1883\n"), 0o600); err != nil {
		t.Fatalf("write config yaml: %v", err)
	}

	t.Setenv("LORAWATCH_MQTT_SERVER", "tcp://env.example:1883")
	t.Setenv("LORAWATCH_BATCH_SIZE", "250")
	t.Setenv("LORAWATCH_LOG_JSON", "true")

	cfg, err := config.New(yamlPath)
	if err != nil {
		t.Fatalf("config.New returned error: %v", err)
	}

	if cfg.MQTT.Server != "tcp://env.example:1883" {
		t.Fatalf("expected mqtt server from env, got %q", cfg.MQTT.Server)
	}
	if cfg.BatchSize != 250 {
		t.Fatalf("expected batch size 250 from env, got %d", cfg.BatchSize)
	}
	if !cfg.LogJSON {
		t.Fatalf("expected log_json true from env override")
	}
}

func TestEnvOverridesLegacyPrefix(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(yamlPath, []byte("mqtt:\n  server: tcp://file.example:1883\n"), 0o600); err != nil {
		t.Fatalf("write config yaml: %v", err)
	}

	t.Setenv("LWA_MQTT_SERVER", "tcp://legacy.example:1883")

	cfg, err := config.New(yamlPath)
	if err != nil {
		t.Fatalf("config.New returned error: %v", err)
	}

	if cfg.MQTT.Server != "tcp://legacy.example:1883" {
		t.Fatalf("expected legacy-prefix override, got %q", cfg.MQTT.Server)
	}
}

func TestMissingConfigFileIsNotAnError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nonexistent.yaml")
	cfg, err := config.New(missing)
	if err != nil {
		t.Fatalf("expected missing config file to fall back to defaults, got error: %v", err)
	}
	if cfg.MQTT.Topic != "#" {
		t.Fatalf("expected default topic to survive, got %q", cfg.MQTT.Topic)
	}
}
