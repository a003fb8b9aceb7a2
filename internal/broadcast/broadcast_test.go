package broadcast_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lorawatch/lorawan-analyzer/internal/broadcast"
	"github.com/lorawatch/lorawan-analyzer/internal/model"
)

type stubSink struct {
	mu       sync.Mutex
	messages [][]byte
	accept   bool
	closed   bool
}

func newStubSink(accept bool) *stubSink {
	return &stubSink{accept: accept}
}

func (s *stubSink) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept {
		return false
	}
	s.messages = append(s.messages, data)
	return true
}

func (s *stubSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func devAddrPtr(s string) *string { return &s }

func TestBroadcasterDeliversToMatchingSubscriber(t *testing.T) {
	b := broadcast.NewBroadcaster(nil)
	sink := newStubSink(true)
	b.Subscribe(sink, broadcast.Filter{
		PacketTypes: map[model.PacketType]struct{}{model.PacketTypeData: {}},
	})

	b.WritePacket(model.ParsedPacket{PacketType: model.PacketTypeData, GatewayID: "gw1"})

	waitForCount(t, sink, 1)
}

func TestBroadcasterDropsNonMatchingPacketType(t *testing.T) {
	b := broadcast.NewBroadcaster(nil)
	sink := newStubSink(true)
	b.Subscribe(sink, broadcast.Filter{
		PacketTypes: map[model.PacketType]struct{}{model.PacketTypeJoinRequest: {}},
	})

	b.WritePacket(model.ParsedPacket{PacketType: model.PacketTypeData, GatewayID: "gw1"})

	time.Sleep(20 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("expected packet to be filtered out, got %d deliveries", sink.count())
	}
}

func TestBroadcasterRSSIRangeAppliesOnlyToDataAndJoin(t *testing.T) {
	b := broadcast.NewBroadcaster(nil)
	sink := newStubSink(true)
	min := int32(-100)
	b.Subscribe(sink, broadcast.Filter{RSSIMin: &min})

	low := int32(-120)
	b.WritePacket(model.ParsedPacket{PacketType: model.PacketTypeData, RSSI: &low})
	time.Sleep(10 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("expected data packet below rssi_min to be dropped")
	}

	b.WritePacket(model.ParsedPacket{PacketType: model.PacketTypeTxAck, RSSI: &low})
	waitForCount(t, sink, 1)
}

func TestFilterOwnedForeignAreComplementary(t *testing.T) {
	prefixes := []broadcast.PrefixRule{{Prefix: 0x26000000, Mask: 0xFE000000}}
	devAddr := "26011AAB"

	owned := broadcast.Filter{FilterMode: broadcast.FilterOwned, Prefixes: prefixes}
	foreign := broadcast.Filter{FilterMode: broadcast.FilterForeign, Prefixes: prefixes}

	pkt := model.ParsedPacket{PacketType: model.PacketTypeData, DevAddr: devAddrPtr(devAddr)}

	ownedResult := owned.MatchesPacket(pkt)
	foreignResult := foreign.MatchesPacket(pkt)

	if ownedResult == foreignResult {
		t.Fatalf("expected owned and foreign to be complementary, got owned=%v foreign=%v", ownedResult, foreignResult)
	}
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	b := broadcast.NewBroadcaster(nil)
	sink := newStubSink(false) // every Send fails, simulating a closing socket
	b.Subscribe(sink, broadcast.Filter{})

	b.WritePacket(model.ParsedPacket{PacketType: model.PacketTypeData})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriberCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected slow subscriber to be dropped")
}

func TestBroadcasterPacketIsValidJSON(t *testing.T) {
	b := broadcast.NewBroadcaster(nil)
	sink := newStubSink(true)
	b.Subscribe(sink, broadcast.Filter{})

	b.WritePacket(model.ParsedPacket{PacketType: model.PacketTypeData, GatewayID: "gw1", Operator: "TTN"})
	waitForCount(t, sink, 1)

	sink.mu.Lock()
	raw := sink.messages[0]
	sink.mu.Unlock()

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("expected valid JSON, got error: %v", err)
	}
}

func waitForCount(t *testing.T, sink *stubSink, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries, got %d", n, sink.count())
}
