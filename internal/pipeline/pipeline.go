// Package pipeline is the single consumer of the MQTT fan-in channel: it
// classifies each message by topic shape, invokes the matching decoder, and
// enriches the result with airtime, operator, and session data before
// handing it to the writer and the broadcaster.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lorawatch/lorawan-analyzer/internal/airtime"
	"github.com/lorawatch/lorawan-analyzer/internal/decode"
	"github.com/lorawatch/lorawan-analyzer/internal/model"
	"github.com/lorawatch/lorawan-analyzer/internal/mqtt"
	"github.com/lorawatch/lorawan-analyzer/internal/observability"
	"github.com/lorawatch/lorawan-analyzer/internal/operator"
	"github.com/lorawatch/lorawan-analyzer/internal/phy"
	"github.com/lorawatch/lorawan-analyzer/internal/session"
)

// Client abstracts the MQTT client behaviour the pipeline depends on.
type Client interface {
	Start(ctx context.Context) error
	Stop()
	Messages() <-chan mqtt.Message
	Errors() <-chan error
}

// Source pairs a broker connection with the wire format its gateway-bridge
// messages use.
type Source struct {
	Label  string
	Client Client
	Format decode.Format
}

// Sink receives every parsed gateway/application event. Implementations are
// expected not to block the pipeline worker for long; the writer buffers
// internally and the broadcaster's per-subscriber sends are non-blocking.
type Sink interface {
	WritePacket(pkt model.ParsedPacket)
	WriteCsPacket(pkt model.CsPacket)
	WriteCsEvent(evt model.CsEvent)
	UpsertGateway(g model.Gateway)
	UpsertCsDevice(d model.CsDevice)
}

// Pipeline is the single consumer of the fan-in channel that runs decoders
// and the session tracker.
type Pipeline struct {
	sources []Source
	matcher *operator.Matcher
	tracker *session.Tracker
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics

	errCh chan error
	wg    sync.WaitGroup
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithLogger overrides the pipeline's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches instrumentation; a nil *Metrics is safe (all methods
// are no-ops on a nil receiver), so this is optional.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// New constructs a Pipeline. A gateway packet is handed to every sink in
// sinks concurrently, one goroutine per sink, and the pipeline waits for all
// of them before the next packet; application-bus packets, control events
// and metadata upserts are passed to the sinks one after another.
func New(sources []Source, matcher *operator.Matcher, tracker *session.Tracker, sinks []Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sources: sources,
		matcher: matcher,
		tracker: tracker,
		sinks:   sinks,
		logger:  slog.Default(),
		errCh:   make(chan error, 64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Errors exposes asynchronous decode/dispatch errors.
func (p *Pipeline) Errors() <-chan error {
	return p.errCh
}

// Run starts every broker connection and blocks, fanning-in their messages
// into a single consumer loop, until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	fanIn := make(chan taggedMessage, 1024)

	for _, src := range p.sources {
		if err := src.Client.Start(ctx); err != nil {
			return err
		}
	}

	for _, src := range p.sources {
		p.wg.Add(2)
		go p.relayMessages(ctx, src, fanIn)
		go p.relayErrors(ctx, src)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.consume(ctx, fanIn)
	}()

	<-ctx.Done()
	for _, src := range p.sources {
		src.Client.Stop()
	}
	p.wg.Wait()
	close(p.errCh)

	return nil
}

type taggedMessage struct {
	msg    mqtt.Message
	format decode.Format
	label  string
}

func (p *Pipeline) relayMessages(ctx context.Context, src Source, out chan<- taggedMessage) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src.Client.Messages():
			if !ok {
				return
			}
			p.metrics.IncMessagesReceived()
			select {
			case out <- taggedMessage{msg: msg, format: src.Format, label: src.Label}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pipeline) relayErrors(ctx context.Context, src Source) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-src.Client.Errors():
			if !ok {
				return
			}
			p.publishErr(err)
		}
	}
}

func (p *Pipeline) consume(ctx context.Context, in <-chan taggedMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case tm, ok := <-in:
			if !ok {
				return
			}
			p.handle(ctx, tm)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, tm taggedMessage) {
	route := decode.ClassifyTopic(tm.msg.Topic)

	switch route.Kind {
	case decode.RouteGatewayUp:
		p.handleGatewayFrame(route.GatewayID, tm.msg, tm.format, model.PacketTypeData)
	case decode.RouteGatewayDown:
		p.handleGatewayFrame(route.GatewayID, tm.msg, tm.format, model.PacketTypeDownlink)
	case decode.RouteGatewayAck:
		p.handleGatewayAck(route.GatewayID, tm.msg, tm.format)
	case decode.RouteGatewayStats:
		// ignored
	case decode.RouteAppUp:
		p.handleAppUplink(tm.msg)
	case decode.RouteAppTxAck:
		p.handleAppTxAck(route.DevEUI, tm.msg)
	case decode.RouteAppAck:
		p.handleAppAck(route.DevEUI, tm.msg)
	case decode.RouteAppCommandDown:
		p.handleAppDownlink(route.DevEUI, tm.msg)
	case decode.RouteUnknown:
		// dropped silently
	}
	_ = ctx
}

func (p *Pipeline) handleGatewayFrame(gatewayID string, msg mqtt.Message, format decode.Format, fallbackType model.PacketType) {
	frame, err := decode.DecodeGatewayFrame(msg.Payload, format, gatewayID)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(err)
		return
	}

	f, err := phy.Parse(frame.PHYPayload)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(err)
		return
	}

	pkt := model.ParsedPacket{
		Timestamp:       timestampOrNow(frame.Timestamp, msg.Time),
		GatewayID:       frame.GatewayID,
		BorderGatewayID: frame.BorderGatewayID,
		Frequency:       frame.Frequency,
		SpreadingFactor: frame.SF,
		Bandwidth:       frame.Bandwidth,
		RSSI:            frame.RSSI,
		SNR:             frame.SNR,
		PayloadSize:     len(frame.PHYPayload),
		FCnt:            fcntPtr(f.FCnt),
		FPort:           f.FPort,
		Confirmed:       f.Confirmed,
	}

	codingRate := "4/5"
	if frame.CodingRate != nil {
		codingRate = *frame.CodingRate
	}
	sf := 0
	if frame.SF != nil {
		sf = *frame.SF
	}
	bw := int64(0)
	if frame.Bandwidth != nil {
		bw = *frame.Bandwidth
	}
	pkt.AirtimeUS = airtime.ComputeMicros(airtime.Params{
		SpreadingFactor: sf,
		Bandwidth:       bw,
		PayloadSize:     len(frame.PHYPayload),
		CodingRate:      codingRate,
	})

	switch f.MType {
	case phy.MTypeJoinRequest:
		pkt.PacketType = model.PacketTypeJoinRequest
		pkt.JoinEUI = nonEmpty(f.JoinEUI)
		pkt.DevEUI = nonEmpty(f.DevEUI)
		pkt.Operator = p.matcher.MatchJoinEUI(f.JoinEUI)
		if f.DevEUI != "" {
			sessionID := p.tracker.OnJoinRequest(f.DevEUI, f.JoinEUI, pkt.Operator, pkt.Timestamp)
			pkt.SessionID = &sessionID
		}
	default:
		pkt.PacketType = fallbackType
		pkt.DevAddr = nonEmpty(f.DevAddr)
		pkt.Operator = p.matcher.MatchDevAddr(f.DevAddr)
		if f.DevAddr != "" {
			if binding, ok := p.tracker.OnDataUplink(f.DevAddr, pkt.Operator, pkt.Timestamp); ok {
				pkt.SessionID = &binding.SessionID
				pkt.DevEUI = &binding.DevEUI
				p.metrics.IncSessionBinding()
			} else {
				p.metrics.IncSessionAmbiguous()
			}
		}
	}

	if pkt.PacketType == model.PacketTypeDownlink {
		zeroRSSI(&pkt)
	}

	p.dispatch(pkt)

	if frame.GatewayName != nil || frame.Latitude != nil || frame.Longitude != nil || frame.GatewayID != "" {
		p.upsertGateway(model.Gateway{
			GatewayID: frame.GatewayID,
			Name:      frame.GatewayName,
			Latitude:  frame.Latitude,
			Longitude: frame.Longitude,
			FirstSeen: pkt.Timestamp,
			LastSeen:  pkt.Timestamp,
		})
	}
}

func (p *Pipeline) handleGatewayAck(gatewayID string, msg mqtt.Message, format decode.Format) {
	ack, err := decode.DecodeGatewayAck(msg.Payload, format)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(err)
		return
	}

	downlinkID := uint32(ack.DownlinkID)
	pkt := model.ParsedPacket{
		Timestamp:  msg.Time,
		GatewayID:  gatewayID,
		PacketType: model.PacketTypeTxAck,
		Operator:   ack.Status,
		FCnt:       &downlinkID,
	}
	zeroRSSI(&pkt)
	p.dispatch(pkt)
}

// zeroRSSI normalizes RSSI/SNR to zero rather than nil: they are only
// meaningful for uplinks (data, join_request); downlink and tx_ack rows
// store zeros.
func zeroRSSI(pkt *model.ParsedPacket) {
	rssi := int32(0)
	snr := 0.0
	pkt.RSSI = &rssi
	pkt.SNR = &snr
}

func (p *Pipeline) handleAppUplink(msg mqtt.Message) {
	up, err := decode.DecodeAppUplink(msg.Payload)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(err)
		return
	}

	pkt := model.CsPacket{
		Timestamp:       timestampOrNow(up.Time, msg.Time),
		DevEUI:          up.DevEUI,
		DevAddr:         up.DevAddr,
		DeviceName:      up.DeviceName,
		ApplicationID:   up.ApplicationID,
		Frequency:       up.Frequency,
		SpreadingFactor: up.SpreadingFactor,
		Bandwidth:       up.Bandwidth,
		RSSI:            up.RSSI,
		SNR:             up.SNR,
		PayloadSize:     up.PayloadSize,
		FCnt:            up.FCnt,
		FPort:           up.FPort,
		Confirmed:       up.Confirmed,
	}

	if up.DevAddr != nil {
		pkt.Operator = p.matcher.MatchDevAddr(*up.DevAddr)
	} else {
		pkt.Operator = operator.Unknown
	}

	codingRate := "4/5"
	sf := 0
	if up.SpreadingFactor != nil {
		sf = *up.SpreadingFactor
	}
	bw := int64(0)
	if up.Bandwidth != nil {
		bw = *up.Bandwidth
	}
	pkt.AirtimeUS = airtime.ComputeMicros(airtime.Params{
		SpreadingFactor: sf,
		Bandwidth:       bw,
		PayloadSize:     up.PayloadSize,
		CodingRate:      codingRate,
	})

	for _, sink := range p.sinks {
		sink.WriteCsPacket(pkt)
	}

	p.upsertCsDevice(model.CsDevice{
		DevEUI:          up.DevEUI,
		DevAddr:         up.DevAddr,
		DeviceName:      up.DeviceName,
		ApplicationID:   up.ApplicationID,
		ApplicationName: up.ApplicationName,
		LastSeen:        pkt.Timestamp,
		PacketCount:     1,
	})
}

func (p *Pipeline) handleAppTxAck(devEUI string, msg mqtt.Message) {
	ack, err := decode.DecodeAppTxAck(msg.Payload)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(err)
		return
	}
	p.dispatchCsEvent(model.CsEvent{
		Timestamp: msg.Time,
		DevEUI:    firstNonEmpty(ack.DevEUI, devEUI),
		Type:      model.CsEventTxAck,
		Status:    ack.Status,
	})
}

func (p *Pipeline) handleAppAck(devEUI string, msg mqtt.Message) {
	ack, err := decode.DecodeAppAck(msg.Payload)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(err)
		return
	}
	p.dispatchCsEvent(model.CsEvent{
		Timestamp: msg.Time,
		DevEUI:    firstNonEmpty(ack.DevEUI, devEUI),
		Type:      model.CsEventAck,
		Status:    ack.Status,
	})
}

func (p *Pipeline) handleAppDownlink(devEUI string, msg mqtt.Message) {
	down, err := decode.DecodeAppDownlink(msg.Payload)
	if err != nil {
		p.metrics.IncDecodeErrors()
		p.publishErr(err)
		return
	}
	p.dispatchCsEvent(model.CsEvent{
		Timestamp:   msg.Time,
		DevEUI:      firstNonEmpty(down.DevEUI, devEUI),
		Type:        model.CsEventDownlink,
		PayloadSize: down.PayloadSize,
		FPort:       down.FPort,
		Confirmed:   down.Confirmed,
	})
}

func (p *Pipeline) dispatchCsEvent(evt model.CsEvent) {
	for _, sink := range p.sinks {
		sink.WriteCsEvent(evt)
	}
}

func (p *Pipeline) dispatch(pkt model.ParsedPacket) {
	var wg sync.WaitGroup
	for _, sink := range p.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			s.WritePacket(pkt)
		}(sink)
	}
	wg.Wait()
}

func (p *Pipeline) upsertGateway(g model.Gateway) {
	for _, sink := range p.sinks {
		sink.UpsertGateway(g)
	}
}

func (p *Pipeline) upsertCsDevice(d model.CsDevice) {
	for _, sink := range p.sinks {
		sink.UpsertCsDevice(d)
	}
}

func (p *Pipeline) publishErr(err error) {
	if err == nil {
		return
	}
	p.metrics.IncPipelineErrors()
	select {
	case p.errCh <- err:
	default:
		p.logger.Warn("pipeline: dropping error, channel full", "error", err)
	}
}

func timestampOrNow(ts *time.Time, fallback time.Time) time.Time {
	if ts != nil {
		return *ts
	}
	return fallback
}

func fcntPtr(v uint16) *uint32 {
	u := uint32(v)
	return &u
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// firstNonEmpty prefers the decoded payload's own value, falling back to the
// value extracted from the topic when the payload omits it.
func firstNonEmpty(payloadValue, topicValue string) string {
	if payloadValue != "" {
		return payloadValue
	}
	return topicValue
}
