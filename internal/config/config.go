// Package config defines the typed configuration surface consumed by the
// ingestion pipeline and its supporting services, loaded from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envPrefixes = []string{"LORAWATCH_", "LWA_"}

// MQTTBroker describes one MQTT connection: the primary broker (mqtt.*) or
// one entry of mqtt_servers[].
type MQTTBroker struct {
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	Format   string `yaml:"format"` // "protobuf" or "json"
}

// OperatorConfig is a config-supplied custom operator rule. Prefix may name either a single prefix or, via PrefixList,
// several prefixes sharing one operator identity.
type OperatorConfig struct {
	Prefix      string   `yaml:"prefix"`
	PrefixList  []string `yaml:"-"`
	Name        string   `yaml:"name"`
	Priority    int      `yaml:"priority"`
	KnownDevice []string `yaml:"known_devices"`
	Color       string   `yaml:"color"`
}

// UnmarshalYAML accepts prefix as either a scalar string or a sequence of
// strings ("prefix: string|string[]?").
func (o *OperatorConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain struct {
		Prefix      yaml.Node `yaml:"prefix"`
		Name        string    `yaml:"name"`
		Priority    int       `yaml:"priority"`
		KnownDevice []string  `yaml:"known_devices"`
		Color       string    `yaml:"color"`
	}
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	o.Name = p.Name
	o.Priority = p.Priority
	o.KnownDevice = p.KnownDevice
	o.Color = p.Color

	switch p.Prefix.Kind {
	case yaml.ScalarNode:
		return p.Prefix.Decode(&o.Prefix)
	case yaml.SequenceNode:
		return p.Prefix.Decode(&o.PrefixList)
	case 0:
		return nil
	default:
		return fmt.Errorf("config: operators[].prefix must be a string or list of strings")
	}
}

// HideRuleConfig is a config-supplied suppression rule, consumed by the query layer, not the write path.
type HideRuleConfig struct {
	Type        string `yaml:"type"` // "dev_addr" or "join_eui"
	Prefix      string `yaml:"prefix"`
	Description string `yaml:"description"`
}

// App contains the full application configuration.
type App struct {
	MQTT        MQTTBroker       `yaml:"mqtt"`
	MQTTServers []MQTTBroker     `yaml:"mqtt_servers"`
	PostgresURL string           `yaml:"postgres_url"`
	APIBind     string           `yaml:"api_bind"`
	Operators   []OperatorConfig `yaml:"operators"`
	HideRules   []HideRuleConfig `yaml:"hide_rules"`

	LogLevel             string `yaml:"log_level"`
	LogJSON              bool   `yaml:"log_json"`
	ObservabilityAddress string `yaml:"observability_address"`

	SessionMaxAge      int `yaml:"session_max_age_seconds"`
	SessionSweepPeriod int `yaml:"session_sweep_period_seconds"`

	BatchSize       int `yaml:"batch_size"`
	FlushIntervalMS int `yaml:"flush_interval_ms"`

	ConfigPath string `yaml:"-"`
}

// New reads the configuration from file (if provided) and applies
// environment overrides on top of it.
func New(path string) (*App, error) {
	cfg := defaultConfig()

	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	return cfg, nil
}

func defaultConfig() *App {
	return &App{
		MQTT: MQTTBroker{
			Server: "tcp://127.0.0.1:1883",
			Topic:  "#",
			Format: "protobuf",
		},
		PostgresURL:          "postgres://localhost:5432/lorawatch?sslmode=disable",
		APIBind:              ":8080",
		LogLevel:             "INFO",
		LogJSON:              false,
		ObservabilityAddress: ":2112",
		SessionMaxAge:        86400,
		SessionSweepPeriod:   300,
		BatchSize:            1000,
		FlushIntervalMS:      2000,
	}
}

func (c *App) applyFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.ConfigPath = path
	return nil
}

// applyEnv overlays environment variables on top of the file/default
// configuration, checking each of the supported prefixes in order and
// taking the first one present. Only flat, frequently-overridden fields are
// covered; nested slices (mqtt_servers[], operators[], hide_rules[]) are
// file-only, since there is no natural single-variable encoding for them.
func (c *App) applyEnv() {
	str := func(suffix string, dst *string) {
		if v, ok := lookupEnv(suffix); ok {
			*dst = v
		}
	}
	boolean := func(suffix string, dst *bool) {
		if v, ok := lookupEnv(suffix); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}
	integer := func(suffix string, dst *int) {
		if v, ok := lookupEnv(suffix); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}

	str("MQTT_SERVER", &c.MQTT.Server)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_TOPIC", &c.MQTT.Topic)
	str("MQTT_FORMAT", &c.MQTT.Format)
	str("POSTGRES_URL", &c.PostgresURL)
	str("API_BIND", &c.APIBind)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_JSON", &c.LogJSON)
	str("OBSERVABILITY_ADDRESS", &c.ObservabilityAddress)
	integer("SESSION_MAX_AGE_SECONDS", &c.SessionMaxAge)
	integer("SESSION_SWEEP_PERIOD_SECONDS", &c.SessionSweepPeriod)
	integer("BATCH_SIZE", &c.BatchSize)
	integer("FLUSH_INTERVAL_MS", &c.FlushIntervalMS)
}

// lookupEnv checks every supported prefix in order, returning the first
// value found.
func lookupEnv(suffix string) (string, bool) {
	for _, prefix := range envPrefixes {
		if v, ok := os.LookupEnv(prefix + suffix); ok {
			return v, true
		}
	}
	return "", false
}

// AllPrefixes returns the operator prefix strings for an OperatorConfig
// entry, whether it was supplied as a single scalar or a list.
func (o OperatorConfig) AllPrefixes() []string {
	if len(o.PrefixList) > 0 {
		return o.PrefixList
	}
	if o.Prefix == "" {
		return nil
	}
	return []string{o.Prefix}
}

// IsColorOnly reports whether this entry carries no prefixes of its own and
// exists only to attach a color to an operator matched elsewhere by name.
func (o OperatorConfig) IsColorOnly() bool {
	return len(o.AllPrefixes()) == 0 && strings.TrimSpace(o.Color) != ""
}
