// Package broadcast fans out parsed packets to live dashboard subscribers,
// each filtered independently, with at-most-once, best-effort delivery.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lorawatch/lorawan-analyzer/internal/model"
)

// Sink is the minimal transport contract a live connection must satisfy.
// The external HTTP/WS server wires a *websocket.Conn-backed implementation
// in; tests use an in-memory stub.
type Sink interface {
	Send(data []byte) bool
	Close()
}

const subscriberBufferDepth = 64

// Subscriber is one live connection's registered filter and outbound queue.
type Subscriber struct {
	id     string
	sink   Sink
	filter Filter

	send chan []byte
	stop chan struct{}
	once sync.Once
}

func newSubscriber(sink Sink, filter Filter) *Subscriber {
	return &Subscriber{
		id:     uuid.NewString(),
		sink:   sink,
		filter: filter,
		send:   make(chan []byte, subscriberBufferDepth),
		stop:   make(chan struct{}),
	}
}

// ID returns the subscriber's opaque identifier, used to unregister it.
func (s *Subscriber) ID() string { return s.id }

// run delivers queued packets until the subscriber is stopped or its sink
// rejects a send; it reports true in the latter case.
func (s *Subscriber) run() bool {
	for {
		select {
		case <-s.stop:
			return false
		case data, ok := <-s.send:
			if !ok {
				return false
			}
			if !s.sink.Send(data) {
				s.close()
				return true
			}
		}
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.stop)
		s.sink.Close()
	})
}

// enqueue drops the packet for this subscriber if its buffer is full,
// matching the "best-effort, no retry, no backlog" policy.
func (s *Subscriber) enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Broadcaster holds the subscriber set and the two metadata caches (gateway
// and cs-device) used to enrich live packets before they are fanned out.
type Broadcaster struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	cacheMu   sync.Mutex
	gateways  map[string]gatewayMeta
	csDevices map[string]csDeviceMeta
	// devAddrToDevEUI is the reverse index used to route gateway-side
	// downlinks to chirpstack-mode subscribers.
	devAddrToDevEUI map[string]string

	droppedSubscribers atomic.Int64
}

type gatewayMeta struct {
	name  *string
	alias *string
	group *string
}

type csDeviceMeta struct {
	deviceName      string
	applicationName *string
	devAddr         *string
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:          logger,
		subscribers:     make(map[string]*Subscriber),
		gateways:        make(map[string]gatewayMeta),
		csDevices:       make(map[string]csDeviceMeta),
		devAddrToDevEUI: make(map[string]string),
	}
}

// Subscribe registers a new live subscriber and starts its delivery loop.
// Adding a subscriber never blocks the pipeline.
func (b *Broadcaster) Subscribe(sink Sink, filter Filter) *Subscriber {
	sub := newSubscriber(sink, filter)

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go func() {
		if sub.run() {
			b.Unsubscribe(sub.id)
			b.droppedSubscribers.Add(1)
		}
	}()
	return sub
}

// Unsubscribe removes a subscriber by id without blocking in-flight sends.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if ok {
		sub.close()
	}
}

// snapshot copies the subscriber set so iteration tolerates concurrent
// mutation.
func (b *Broadcaster) snapshot() []*Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		out = append(out, s)
	}
	return out
}

// WritePacket implements pipeline.Sink: it evaluates every subscriber's
// filter against pkt and enqueues the serialized packet for the ones that
// pass.
func (b *Broadcaster) WritePacket(pkt model.ParsedPacket) {
	fields := b.searchFieldsFor(pkt)

	var encoded []byte
	for _, sub := range b.snapshot() {
		if sub.filter.SourceMode == SourceChirpstack && !b.routesToChirpstack(pkt) {
			continue
		}
		if sub.filter.SourceMode == SourceGateway && pkt.DevEUI != nil && b.isCsRouted(pkt) {
			continue
		}
		if !sub.filter.Matches(pkt, fields) {
			continue
		}
		if encoded == nil {
			gw, crossDevEUI, crossDevice := b.gatewayPacketEnrichment(pkt)
			encoded, _ = json.Marshal(buildLiveWireFromParsedPacket(pkt, gw, crossDevEUI, crossDevice))
		}
		if !sub.enqueue(encoded) {
			b.Unsubscribe(sub.id)
			b.droppedSubscribers.Add(1)
			b.logger.Debug("broadcast: dropped slow subscriber", "subscriber_id", sub.id)
		}
	}
}

// gatewayPacketEnrichment resolves the gateway metadata and, for a downlink
// whose dev_addr is known to map to a cs device, that device's DevEUI and
// metadata (the cross-stream case).
func (b *Broadcaster) gatewayPacketEnrichment(pkt model.ParsedPacket) (gatewayMeta, string, csDeviceMeta) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	gw := b.gateways[pkt.GatewayID]

	if pkt.DevEUI != nil || pkt.DevAddr == nil {
		return gw, "", csDeviceMeta{}
	}
	devEUI, ok := b.devAddrToDevEUI[*pkt.DevAddr]
	if !ok {
		return gw, "", csDeviceMeta{}
	}
	return gw, devEUI, b.csDevices[devEUI]
}

// isCsRouted reports whether pkt's DevAddr is known to map to a CS device.
func (b *Broadcaster) isCsRouted(pkt model.ParsedPacket) bool {
	if pkt.DevAddr == nil {
		return false
	}
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	_, ok := b.devAddrToDevEUI[*pkt.DevAddr]
	return ok
}

// routesToChirpstack reports whether a gateway-origin packet should still
// reach chirpstack-mode subscribers: downlinks whose DevAddr is known to map
// to a CS device.
func (b *Broadcaster) routesToChirpstack(pkt model.ParsedPacket) bool {
	return pkt.PacketType == model.PacketTypeDownlink && b.isCsRouted(pkt)
}

// WriteCsPacket implements pipeline.Sink for application-bus uplinks.
func (b *Broadcaster) WriteCsPacket(pkt model.CsPacket) {
	encoded, err := json.Marshal(buildLiveWireFromCsPacket(pkt))
	if err != nil {
		return
	}
	b.fanOutToChirpstack(encoded)
}

// WriteCsEvent implements pipeline.Sink for application-bus control events
// (tx-ack/ack/downlink): these have no persisted row, only a live delivery
// to chirpstack-mode subscribers.
func (b *Broadcaster) WriteCsEvent(evt model.CsEvent) {
	b.cacheMu.Lock()
	device := b.csDevices[evt.DevEUI]
	b.cacheMu.Unlock()

	encoded, err := json.Marshal(buildLiveWireFromCsEvent(evt, device))
	if err != nil {
		return
	}
	b.fanOutToChirpstack(encoded)
}

// fanOutToChirpstack enqueues an already-encoded event for every
// chirpstack-mode subscriber.
func (b *Broadcaster) fanOutToChirpstack(encoded []byte) {
	for _, sub := range b.snapshot() {
		if sub.filter.SourceMode != SourceChirpstack {
			continue
		}
		if !sub.enqueue(encoded) {
			b.Unsubscribe(sub.id)
			b.droppedSubscribers.Add(1)
		}
	}
}

// UpsertGateway refreshes the gateway metadata cache.
func (b *Broadcaster) UpsertGateway(g model.Gateway) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.gateways[g.GatewayID] = gatewayMeta{name: g.Name, alias: g.Alias, group: g.GroupName}
}

// UpsertCsDevice refreshes the CS device cache and its reverse DevAddr index.
func (b *Broadcaster) UpsertCsDevice(d model.CsDevice) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.csDevices[d.DevEUI] = csDeviceMeta{deviceName: d.DeviceName, applicationName: d.ApplicationName, devAddr: d.DevAddr}
	if d.DevAddr != nil {
		b.devAddrToDevEUI[*d.DevAddr] = d.DevEUI
	}
}

func (b *Broadcaster) searchFieldsFor(pkt model.ParsedPacket) searchableFields {
	b.cacheMu.Lock()
	gw := b.gateways[pkt.GatewayID]
	b.cacheMu.Unlock()

	f := searchableFields{
		gatewayID: pkt.GatewayID,
		operator:  pkt.Operator,
	}
	if gw.name != nil {
		f.gatewayName = *gw.name
	}
	if gw.alias != nil {
		f.gatewayAlias = *gw.alias
	}
	if gw.group != nil {
		f.gatewayGroup = *gw.group
	}
	if pkt.DevAddr != nil {
		f.devAddr = *pkt.DevAddr
	}
	if pkt.DevEUI != nil {
		f.devEUI = *pkt.DevEUI
	}
	if pkt.JoinEUI != nil {
		f.joinEUI = *pkt.JoinEUI
	}
	return f
}

// DroppedSubscribers returns the number of subscribers removed for a full
// buffer or closing sink since startup.
func (b *Broadcaster) DroppedSubscribers() int64 {
	return b.droppedSubscribers.Load()
}

// SubscriberCount returns the current live subscriber count.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
