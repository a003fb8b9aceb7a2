package decode_test

import (
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lorawatch/lorawan-analyzer/internal/decode"
)

func buildUplinkFrameWire(t *testing.T) []byte {
	t.Helper()

	lora := protowire.AppendTag(nil, 1, protowire.VarintType)
	lora = protowire.AppendVarint(lora, 125000) // bandwidth
	lora = protowire.AppendTag(lora, 2, protowire.VarintType)
	lora = protowire.AppendVarint(lora, 7) // spreading_factor
	lora = protowire.AppendTag(lora, 3, protowire.BytesType)
	lora = protowire.AppendBytes(lora, []byte("4/5")) // code_rate

	modulation := protowire.AppendTag(nil, 1, protowire.BytesType)
	modulation = protowire.AppendBytes(modulation, lora)

	txInfo := protowire.AppendTag(nil, 1, protowire.VarintType)
	txInfo = protowire.AppendVarint(txInfo, 868100000) // frequency
	txInfo = protowire.AppendTag(txInfo, 2, protowire.BytesType)
	txInfo = protowire.AppendBytes(txInfo, modulation)

	rxInfo := protowire.AppendTag(nil, 1, protowire.BytesType)
	rxInfo = protowire.AppendBytes(rxInfo, []byte("gw-0001"))
	rxInfo = protowire.AppendTag(rxInfo, 5, protowire.VarintType)
	var rssi int32 = -42
	rxInfo = protowire.AppendVarint(rxInfo, uint64(uint32(rssi))) // rssi, signed

	frame := protowire.AppendTag(nil, 1, protowire.BytesType)
	frame = protowire.AppendBytes(frame, []byte{0x40, 0xAB, 0x1A, 0x01, 0x26, 0x00, 0x01, 0x00, 0x01, 0xAA})
	frame = protowire.AppendTag(frame, 2, protowire.BytesType)
	frame = protowire.AppendBytes(frame, txInfo)
	frame = protowire.AppendTag(frame, 3, protowire.BytesType)
	frame = protowire.AppendBytes(frame, rxInfo)

	return frame
}

func TestDecodeGatewayFrameProtoKnownFields(t *testing.T) {
	wire := buildUplinkFrameWire(t)

	frame, err := decode.DecodeGatewayFrame(wire, decode.FormatProtobuf, "topic-gw-id")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if frame.GatewayID != "gw-0001" {
		t.Fatalf("expected gateway id gw-0001, got %s", frame.GatewayID)
	}
	if frame.Frequency == nil || *frame.Frequency != 868100000 {
		t.Fatalf("expected frequency 868100000, got %v", frame.Frequency)
	}
	if frame.SF == nil || *frame.SF != 7 {
		t.Fatalf("expected SF 7, got %v", frame.SF)
	}
	if frame.Bandwidth == nil || *frame.Bandwidth != 125000 {
		t.Fatalf("expected bandwidth 125000, got %v", frame.Bandwidth)
	}
	if frame.CodingRate == nil || *frame.CodingRate != "4/5" {
		t.Fatalf("expected coding rate 4/5, got %v", frame.CodingRate)
	}
	if frame.RSSI == nil || *frame.RSSI != -42 {
		t.Fatalf("expected rssi -42, got %v", frame.RSSI)
	}
	if len(frame.PHYPayload) != 10 {
		t.Fatalf("expected 10-byte phy payload, got %d", len(frame.PHYPayload))
	}
}

func TestDecodeGatewayFrameProtoUnknownFieldsSkipped(t *testing.T) {
	wire := buildUplinkFrameWire(t)
	// Append an unknown field (number 99, varint) to the outer message.
	wire = protowire.AppendTag(wire, 99, protowire.VarintType)
	wire = protowire.AppendVarint(wire, 12345)

	frame, err := decode.DecodeGatewayFrame(wire, decode.FormatProtobuf, "topic-gw-id")
	if err != nil {
		t.Fatalf("decode with trailing unknown field: %v", err)
	}
	if frame.GatewayID != "gw-0001" {
		t.Fatalf("expected gateway id preserved despite unknown field, got %s", frame.GatewayID)
	}
}

func TestDecodeGatewayFrameJSONMirrorsProtoSemantics(t *testing.T) {
	jsonPayload := []byte(`{
		"phyPayload": "QKsaASYAAQABqg==",
		"txInfo": {"frequency": 868100000, "modulation": {"lora": {"spreadingFactor": 7, "bandwidth": 125000, "codeRate": "4/5"}}},
		"rxInfo": {"gatewayId": "gw-0001", "rssi": -42}
	}`)

	frame, err := decode.DecodeGatewayFrame(jsonPayload, decode.FormatJSON, "topic-gw-id")
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}

	if frame.GatewayID != "gw-0001" || frame.Frequency == nil || *frame.Frequency != 868100000 ||
		frame.SF == nil || *frame.SF != 7 || frame.Bandwidth == nil || *frame.Bandwidth != 125000 ||
		frame.CodingRate == nil || *frame.CodingRate != "4/5" || frame.RSSI == nil || *frame.RSSI != -42 {
		t.Fatalf("json-decoded frame does not match protobuf-decoded fields: %+v", frame)
	}
}

func TestDecodeGatewayFrameRelayIDOverridesGatewayID(t *testing.T) {
	jsonPayload := []byte(`{
		"rxInfo": {"gatewayId": "gw-0001", "metadata": {"relay_id": "relay-9"}}
	}`)
	frame, err := decode.DecodeGatewayFrame(jsonPayload, decode.FormatJSON, "topic-gw-0001")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.GatewayID != "relay-9" {
		t.Fatalf("expected relay id to become gateway id, got %s", frame.GatewayID)
	}
	if frame.BorderGatewayID == nil || *frame.BorderGatewayID != "topic-gw-0001" {
		t.Fatalf("expected border gateway id from topic, got %v", frame.BorderGatewayID)
	}
}

func TestDecodeGatewayFrameHeliumLocationFallback(t *testing.T) {
	jsonPayload := []byte(`{
		"rxInfo": {"gatewayId": "gw-0001", "metadata": {"gateway_lat": "52.1", "gateway_long": "4.5", "gateway_name": "Helium Hotspot"}}
	}`)
	frame, err := decode.DecodeGatewayFrame(jsonPayload, decode.FormatJSON, "topic-gw-0001")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Latitude == nil || *frame.Latitude != 52.1 {
		t.Fatalf("expected latitude 52.1, got %v", frame.Latitude)
	}
	if frame.GatewayName == nil || *frame.GatewayName != "Helium Hotspot" {
		t.Fatalf("expected gateway name, got %v", frame.GatewayName)
	}
}

func TestDecodeGatewayAckStatusNames(t *testing.T) {
	ack, err := decode.DecodeGatewayAck([]byte(`{"downlinkId": 42, "status": "COLLISION_PACKET"}`), decode.FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.DownlinkID != 42 {
		t.Fatalf("expected downlink id 42, got %d", ack.DownlinkID)
	}
	if ack.Status != "CollisionPacket" {
		t.Fatalf("expected status CollisionPacket, got %s", ack.Status)
	}
}

func TestAckStatusNameKnownAndUnknown(t *testing.T) {
	if decode.AckStatusName(3) != "CollisionPacket" {
		t.Fatalf("expected CollisionPacket, got %s", decode.AckStatusName(3))
	}
	if decode.AckStatusName(999) != "Status999" {
		t.Fatalf("expected fallback for unknown status, got %s", decode.AckStatusName(999))
	}
}

func TestDecodeGatewayFrameMalformedProtoIsDecodeError(t *testing.T) {
	_, err := decode.DecodeGatewayFrame([]byte{0xFF, 0xFF, 0xFF}, decode.FormatProtobuf, "gw")
	if err == nil {
		t.Fatalf("expected decode error for malformed wire bytes")
	}
}

func TestDecodeGatewayFrameTimeUnixEpoch(t *testing.T) {
	rxInfo := protowire.AppendTag(nil, 1, protowire.BytesType)
	rxInfo = protowire.AppendBytes(rxInfo, []byte("gw-ts"))
	ts := protowire.AppendTag(nil, 1, protowire.VarintType)
	ts = protowire.AppendVarint(ts, 1700000000)
	rxInfo = protowire.AppendTag(rxInfo, 2, protowire.BytesType)
	rxInfo = protowire.AppendBytes(rxInfo, ts)

	frame := protowire.AppendTag(nil, 3, protowire.BytesType)
	frame = protowire.AppendBytes(frame, rxInfo)

	got, err := decode.DecodeGatewayFrame(frame, decode.FormatProtobuf, "gw-ts")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Timestamp == nil {
		t.Fatalf("expected timestamp to be set")
	}
	want := time.Unix(1700000000, 0).UTC()
	if !got.Timestamp.Equal(want) {
		t.Fatalf("expected %v, got %v", want, *got.Timestamp)
	}
}
