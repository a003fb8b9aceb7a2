package session_test

import (
	"testing"
	"time"

	"github.com/lorawatch/lorawan-analyzer/internal/session"
)

func TestOnDataUplinkBindsUniquePendingJoin(t *testing.T) {
	tr := session.NewTracker()
	now := time.Now()

	sid := tr.OnJoinRequest("DEVEUI1", "JOINEUI1", "TTN", now)

	binding, ok := tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Second))
	if !ok {
		t.Fatalf("expected binding to succeed")
	}
	if binding.SessionID != sid {
		t.Fatalf("expected session id %s, got %s", sid, binding.SessionID)
	}
	if binding.DevEUI != "DEVEUI1" {
		t.Fatalf("expected devEUI DEVEUI1, got %s", binding.DevEUI)
	}
}

func TestOnDataUplinkAmbiguousTieYieldsNoBinding(t *testing.T) {
	tr := session.NewTracker()
	now := time.Now()

	tr.OnJoinRequest("DEVEUI1", "JOINEUI1", "TTN", now)
	tr.OnJoinRequest("DEVEUI2", "JOINEUI2", "TTN", now)

	_, ok := tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Second))
	if ok {
		t.Fatalf("expected ambiguous tie to yield no binding")
	}
}

func TestOnDataUplinkPicksMostRecentJoin(t *testing.T) {
	tr := session.NewTracker()
	now := time.Now()

	tr.OnJoinRequest("DEVEUI1", "JOINEUI1", "TTN", now)
	sid2 := tr.OnJoinRequest("DEVEUI2", "JOINEUI2", "TTN", now.Add(time.Second))

	binding, ok := tr.OnDataUplink("26011AAB", "TTN", now.Add(2*time.Second))
	if !ok {
		t.Fatalf("expected binding to succeed")
	}
	if binding.SessionID != sid2 || binding.DevEUI != "DEVEUI2" {
		t.Fatalf("expected most-recent join DEVEUI2 to win, got %+v", binding)
	}
}

func TestOnDataUplinkDifferentOperatorIsNotCandidate(t *testing.T) {
	tr := session.NewTracker()
	now := time.Now()

	tr.OnJoinRequest("DEVEUI1", "JOINEUI1", "Orange", now)

	_, ok := tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Second))
	if ok {
		t.Fatalf("expected no binding across different operators")
	}
}

func TestOnDataUplinkKnownDevAddrRefreshesLastSeen(t *testing.T) {
	tr := session.NewTracker()
	now := time.Now()

	tr.OnJoinRequest("DEVEUI1", "JOINEUI1", "TTN", now)
	first, _ := tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Second))
	second, ok := tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Hour))
	if !ok {
		t.Fatalf("expected already-bound devAddr to stay bound")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected stable session id across repeated uplinks")
	}
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	tr := session.NewTracker()
	now := time.Now()

	tr.OnJoinRequest("DEVEUI1", "JOINEUI1", "TTN", now)
	tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Second))

	evicted := tr.Sweep(now.Add(48*time.Hour), 24*time.Hour)
	if evicted == 0 {
		t.Fatalf("expected at least one eviction")
	}

	if _, ok := tr.OnDataUplink("26011AAB", "TTN", now.Add(48*time.Hour)); ok {
		t.Fatalf("expected binding to be gone after sweep")
	}
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	tr := session.NewTracker()
	now := time.Now()

	tr.OnJoinRequest("DEVEUI1", "JOINEUI1", "TTN", now)
	tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Second))

	tr.Sweep(now.Add(time.Minute), 24*time.Hour)

	if _, ok := tr.OnDataUplink("26011AAB", "TTN", now.Add(time.Minute)); !ok {
		t.Fatalf("expected fresh binding to survive sweep")
	}
}
