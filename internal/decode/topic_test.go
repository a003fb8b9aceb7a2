package decode_test

import (
	"testing"

	"github.com/lorawatch/lorawan-analyzer/internal/decode"
)

func TestClassifyTopicGateway(t *testing.T) {
	cases := []struct {
		topic string
		kind  decode.RouteKind
		gw    string
	}{
		{"eu868/gateway/aabbccdd/event/up", decode.RouteGatewayUp, "aabbccdd"},
		{"eu868/gateway/aabbccdd/event/down", decode.RouteGatewayDown, "aabbccdd"},
		{"eu868/gateway/aabbccdd/event/ack", decode.RouteGatewayAck, "aabbccdd"},
		{"eu868/gateway/aabbccdd/event/stats", decode.RouteGatewayStats, "aabbccdd"},
	}
	for _, c := range cases {
		r := decode.ClassifyTopic(c.topic)
		if r.Kind != c.kind {
			t.Fatalf("topic %s: expected kind %v, got %v", c.topic, c.kind, r.Kind)
		}
		if r.GatewayID != c.gw {
			t.Fatalf("topic %s: expected gateway %s, got %s", c.topic, c.gw, r.GatewayID)
		}
	}
}

func TestClassifyTopicApplication(t *testing.T) {
	cases := []struct {
		topic string
		kind  decode.RouteKind
	}{
		{"application/42/device/0102030405060708/event/up", decode.RouteAppUp},
		{"application/42/device/0102030405060708/event/txack", decode.RouteAppTxAck},
		{"application/42/device/0102030405060708/event/ack", decode.RouteAppAck},
		{"application/42/device/0102030405060708/command/down", decode.RouteAppCommandDown},
	}
	for _, c := range cases {
		r := decode.ClassifyTopic(c.topic)
		if r.Kind != c.kind {
			t.Fatalf("topic %s: expected kind %v, got %v", c.topic, c.kind, r.Kind)
		}
		if r.AppID != "42" || r.DevEUI != "0102030405060708" {
			t.Fatalf("topic %s: unexpected app/dev: %+v", c.topic, r)
		}
	}
}

func TestClassifyTopicUnknownIsDropped(t *testing.T) {
	cases := []string{
		"",
		"eu868/gateway/aabbccdd/event",
		"application/42/device",
		"something/else/entirely",
	}
	for _, topic := range cases {
		if r := decode.ClassifyTopic(topic); r.Kind != decode.RouteUnknown {
			t.Fatalf("topic %q: expected Unknown, got %v", topic, r.Kind)
		}
	}
}
