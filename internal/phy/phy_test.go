package phy_test

import (
	"encoding/hex"
	"testing"

	"github.com/lorawatch/lorawan-analyzer/internal/phy"
)

func TestParseUnconfirmedDataUp(t *testing.T) {
	// MHDR=0x40 (unconfirmed data up), DevAddr=26011AAB (LE on wire),
	// FCtrl=0x00, FCnt=0x0001 (LE), FPort=0x01, FRMPayload=1 byte.
	raw, err := hex.DecodeString("40AB1A012600010001AA")
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	frame, err := phy.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if frame.MType != phy.MTypeUnconfirmedDataUp {
		t.Fatalf("expected unconfirmed data up, got %v", frame.MType)
	}
	if frame.DevAddr != "26011AAB" {
		t.Fatalf("expected DevAddr 26011AAB, got %s", frame.DevAddr)
	}
	if frame.FCnt != 1 {
		t.Fatalf("expected FCnt 1, got %d", frame.FCnt)
	}
	if frame.FPort == nil || *frame.FPort != 1 {
		t.Fatalf("expected FPort 1, got %v", frame.FPort)
	}
	if frame.Confirmed == nil || *frame.Confirmed {
		t.Fatalf("expected confirmed=false, got %v", frame.Confirmed)
	}
}

func TestParseConfirmedDataDown(t *testing.T) {
	raw, err := hex.DecodeString("A0AB1A0126000100")
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	frame, err := phy.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.MType != phy.MTypeConfirmedDataDown {
		t.Fatalf("expected confirmed data down, got %v", frame.MType)
	}
	if frame.Confirmed == nil || !*frame.Confirmed {
		t.Fatalf("expected confirmed=true, got %v", frame.Confirmed)
	}
	if frame.FPort != nil {
		t.Fatalf("expected no FPort when FRMPayload absent, got %v", *frame.FPort)
	}
}

func TestParseJoinRequest(t *testing.T) {
	// MHDR=0x00, JoinEUI=70B3D57ED0000001 (LE on wire), DevEUI=0000000000000001 (LE), DevNonce=0x0000.
	raw, err := hex.DecodeString("00010000D07ED5B37001000000000000000000")
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	frame, err := phy.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.MType != phy.MTypeJoinRequest {
		t.Fatalf("expected join request, got %v", frame.MType)
	}
	if frame.JoinEUI != "70B3D57ED0000001" {
		t.Fatalf("expected JoinEUI 70B3D57ED0000001, got %s", frame.JoinEUI)
	}
	if frame.DevEUI != "0000000000000001" {
		t.Fatalf("expected DevEUI 0000000000000001, got %s", frame.DevEUI)
	}
	if frame.DevAddr != "" {
		t.Fatalf("expected empty DevAddr for join request, got %s", frame.DevAddr)
	}
}

func TestParseTooShortIsMalformed(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00, 0x01, 0x02},
		{0x40, 0x01, 0x02, 0x03, 0x04, 0x00, 0x01},
	}
	for _, c := range cases {
		if _, err := phy.Parse(c); err == nil {
			t.Fatalf("expected error for short buffer %x", c)
		}
	}
}

func TestParseFOptsOffsetsFPort(t *testing.T) {
	// FCtrl FOptsLen=2, so 2 extra bytes before FPort.
	raw, err := hex.DecodeString("40AB1A012602010000010205") // FOpts=0001, FPort=02, payload=05
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	frame, err := phy.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.FPort == nil || *frame.FPort != 2 {
		t.Fatalf("expected FPort 2, got %v", frame.FPort)
	}
}
