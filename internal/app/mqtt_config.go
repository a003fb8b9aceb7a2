// Package app wires the typed configuration surface into the concrete
// components the pipeline needs: one mqtt.Client per configured broker and
// their matching pipeline.Source/decode.Format pairing.
package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lorawatch/lorawan-analyzer/internal/config"
	"github.com/lorawatch/lorawan-analyzer/internal/decode"
	"github.com/lorawatch/lorawan-analyzer/internal/mqtt"
	"github.com/lorawatch/lorawan-analyzer/internal/pipeline"
)

// BuildMQTTConfig translates one broker's configuration block into an MQTT
// client config, trimming the string fields config files and env overrides
// tend to accumulate incidental whitespace on.
func BuildMQTTConfig(broker config.MQTTBroker) (mqtt.Config, error) {
	host, port, err := splitServer(broker.Server)
	if err != nil {
		return mqtt.Config{}, err
	}

	return mqtt.Config{
		BrokerHost:  host,
		BrokerPort:  port,
		Username:    strings.TrimSpace(broker.Username),
		Password:    strings.TrimSpace(broker.Password),
		TopicPrefix: strings.TrimSpace(broker.Topic),
	}, nil
}

// BuildFormat resolves a broker's configured wire format, defaulting to
// protobuf when unset.
func BuildFormat(broker config.MQTTBroker) decode.Format {
	switch strings.ToLower(strings.TrimSpace(broker.Format)) {
	case "json":
		return decode.FormatJSON
	default:
		return decode.FormatProtobuf
	}
}

// BrokerConfigs returns every configured broker in connection order: the
// primary mqtt.* block first, then each entry of mqtt_servers[].
func BrokerConfigs(cfg *config.App) []config.MQTTBroker {
	if cfg == nil {
		return nil
	}
	out := make([]config.MQTTBroker, 0, 1+len(cfg.MQTTServers))
	out = append(out, cfg.MQTT)
	out = append(out, cfg.MQTTServers...)
	return out
}

// BuildSources constructs one mqtt.Client and matching pipeline.Source per
// configured broker, in BrokerConfigs order. The primary broker is labelled
// "primary"; additional brokers are labelled by their index among
// mqtt_servers[].
func BuildSources(cfg *config.App) ([]pipeline.Source, error) {
	brokers := BrokerConfigs(cfg)
	sources := make([]pipeline.Source, 0, len(brokers))

	for i, broker := range brokers {
		mqttCfg, err := BuildMQTTConfig(broker)
		if err != nil {
			return nil, err
		}
		client, err := mqtt.NewClient(mqttCfg)
		if err != nil {
			return nil, fmt.Errorf("app: building client for broker %d: %w", i, err)
		}

		label := "primary"
		if i > 0 {
			label = fmt.Sprintf("mqtt_servers[%d]", i-1)
		}

		sources = append(sources, pipeline.Source{
			Label:  label,
			Client: client,
			Format: BuildFormat(broker),
		})
	}

	return sources, nil
}

func splitServer(server string) (string, int, error) {
	server = strings.TrimSpace(server)
	server = strings.TrimPrefix(server, "tcp://")
	server = strings.TrimPrefix(server, "ssl://")
	server = strings.TrimPrefix(server, "tls://")

	host, portStr, ok := strings.Cut(server, ":")
	if !ok || host == "" || portStr == "" {
		return "", 0, fmt.Errorf("app: mqtt server %q must be host:port", server)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("app: mqtt server %q has an invalid port", server)
	}
	return host, port, nil
}
