package decode_test

import (
	"testing"

	"github.com/lorawatch/lorawan-analyzer/internal/decode"
)

func TestDecodeAppUplink(t *testing.T) {
	payload := []byte(`{
		"deviceInfo": {"devEui": "0102030405060708", "deviceName": "sensor-1", "applicationId": "42", "applicationName": "Farm"},
		"devAddr": "26011AAB",
		"rxInfo": [{"rssi": -80, "snr": 7.5}],
		"txInfo": {"frequency": 868300000, "modulation": {"lora": {"spreadingFactor": 9, "bandwidth": 125000}}},
		"data": "AQID",
		"fCnt": 12,
		"fPort": 2,
		"confirmed": false
	}`)

	got, err := decode.DecodeAppUplink(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DevEUI != "0102030405060708" || got.DeviceName != "sensor-1" || got.ApplicationID != "42" {
		t.Fatalf("unexpected device info: %+v", got)
	}
	if got.DevAddr == nil || *got.DevAddr != "26011AAB" {
		t.Fatalf("expected devAddr, got %v", got.DevAddr)
	}
	if got.RSSI == nil || *got.RSSI != -80 {
		t.Fatalf("expected rssi -80, got %v", got.RSSI)
	}
	if got.SpreadingFactor == nil || *got.SpreadingFactor != 9 {
		t.Fatalf("expected SF 9, got %v", got.SpreadingFactor)
	}
	if got.PayloadSize != 3 {
		t.Fatalf("expected payload size 3, got %d", got.PayloadSize)
	}
	if got.FCnt == nil || *got.FCnt != 12 {
		t.Fatalf("expected fCnt 12, got %v", got.FCnt)
	}
}

func TestDecodeAppUplinkMalformedIsDecodeError(t *testing.T) {
	if _, err := decode.DecodeAppUplink([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodeAppTxAckAlwaysOK(t *testing.T) {
	got, err := decode.DecodeAppTxAck([]byte(`{"deviceInfo": {"devEui": "ABCD"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "OK" {
		t.Fatalf("expected OK, got %s", got.Status)
	}
}

func TestDecodeAppAckAcknowledgedMapsToStatus(t *testing.T) {
	acked, err := decode.DecodeAppAck([]byte(`{"deviceInfo": {"devEui": "ABCD"}, "acknowledged": true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acked.Status != "ACK" {
		t.Fatalf("expected ACK, got %s", acked.Status)
	}

	nacked, err := decode.DecodeAppAck([]byte(`{"deviceInfo": {"devEui": "ABCD"}, "acknowledged": false}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if nacked.Status != "NACK" {
		t.Fatalf("expected NACK, got %s", nacked.Status)
	}
}

func TestDecodeAppDownlink(t *testing.T) {
	got, err := decode.DecodeAppDownlink([]byte(`{"deviceInfo": {"devEui": "ABCD"}, "data": "AQIDBA==", "fPort": 5}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PayloadSize != 4 {
		t.Fatalf("expected payload size 4, got %d", got.PayloadSize)
	}
	if got.FPort == nil || *got.FPort != 5 {
		t.Fatalf("expected fPort 5, got %v", got.FPort)
	}
}
