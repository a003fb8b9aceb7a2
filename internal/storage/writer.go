// Package storage is the batched writer: two independent stream buffers
// (ParsedPacket, CsPacket) flushed to Postgres on size or interval, plus
// immediate upserts for gateway/cs_device metadata.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lorawatch/lorawan-analyzer/internal/model"
	"github.com/lorawatch/lorawan-analyzer/internal/observability"
)

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 2 * time.Second
	defaultQueueDepth    = 4096
)

// Config controls writer batching behaviour.
type Config struct {
	PostgresURL   string
	BatchSize     int
	FlushInterval time.Duration
}

func (c *Config) normalise() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
}

// Writer implements pipeline.Sink against a Postgres/TimescaleDB backend.
// Rows are never dropped while the process is alive: callers
// block on a full channel rather than losing data, and a failed flush keeps
// its batch buffered for the next tick instead of discarding it.
type Writer struct {
	cfg     Config
	db      *sqlx.DB
	logger  *slog.Logger
	metrics *observability.Metrics

	packets   chan model.ParsedPacket
	csPackets chan model.CsPacket

	wg sync.WaitGroup
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithLogger overrides the writer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics attaches instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(w *Writer) {
		w.metrics = metrics
	}
}

// NewWriter constructs a Writer. Start must be called before use.
func NewWriter(cfg Config, opts ...Option) *Writer {
	cfg.normalise()
	w := &Writer{
		cfg:       cfg,
		logger:    slog.Default(),
		packets:   make(chan model.ParsedPacket, defaultQueueDepth),
		csPackets: make(chan model.CsPacket, defaultQueueDepth),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start opens the database connection and begins the two flush loops.
func (w *Writer) Start(ctx context.Context) error {
	db, err := sqlx.Open("postgres", w.cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("storage: ping postgres: %w", err)
	}
	w.db = db

	w.wg.Add(2)
	go w.runPacketLoop(ctx)
	go w.runCsPacketLoop(ctx)
	return nil
}

// Stop drains both buffers and closes the database connection.
func (w *Writer) Stop() error {
	close(w.packets)
	close(w.csPackets)
	w.wg.Wait()
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}

// WritePacket implements pipeline.Sink.
func (w *Writer) WritePacket(pkt model.ParsedPacket) {
	w.packets <- pkt
}

// WriteCsPacket implements pipeline.Sink.
func (w *Writer) WriteCsPacket(pkt model.CsPacket) {
	w.csPackets <- pkt
}

// WriteCsEvent implements pipeline.Sink. Tx-ack/ack/downlink control events
// have no persisted row; only the broadcaster consumes them.
func (w *Writer) WriteCsEvent(model.CsEvent) {}

// UpsertGateway implements pipeline.Sink: creates on first sighting,
// preserves fields not provided, and always refreshes last_seen.
func (w *Writer) UpsertGateway(g model.Gateway) {
	_, err := w.db.Exec(`
		INSERT INTO gateways (gateway_id, name, alias, group_name, first_seen, last_seen, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7)
		ON CONFLICT (gateway_id) DO UPDATE SET
			name      = COALESCE(EXCLUDED.name, gateways.name),
			alias     = COALESCE(EXCLUDED.alias, gateways.alias),
			group_name = COALESCE(EXCLUDED.group_name, gateways.group_name),
			last_seen = EXCLUDED.last_seen,
			latitude  = COALESCE(EXCLUDED.latitude, gateways.latitude),
			longitude = COALESCE(EXCLUDED.longitude, gateways.longitude)`,
		g.GatewayID, g.Name, g.Alias, g.GroupName, g.LastSeen, g.Latitude, g.Longitude,
	)
	if err != nil {
		w.metrics.IncStoreErrors()
		w.logger.Warn("storage: upsert gateway failed", "error", err, "gateway_id", g.GatewayID)
		return
	}
	w.metrics.IncGatewayUpsert()
}

// UpsertCsDevice implements pipeline.Sink: same semantics as UpsertGateway,
// but packet_count is incremented on every call.
func (w *Writer) UpsertCsDevice(d model.CsDevice) {
	_, err := w.db.Exec(`
		INSERT INTO cs_devices (dev_eui, dev_addr, device_name, application_id, application_name, last_seen, packet_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dev_eui) DO UPDATE SET
			dev_addr         = COALESCE(EXCLUDED.dev_addr, cs_devices.dev_addr),
			device_name      = COALESCE(NULLIF(EXCLUDED.device_name, ''), cs_devices.device_name),
			application_id   = COALESCE(NULLIF(EXCLUDED.application_id, ''), cs_devices.application_id),
			application_name = COALESCE(EXCLUDED.application_name, cs_devices.application_name),
			last_seen        = EXCLUDED.last_seen,
			packet_count     = cs_devices.packet_count + 1`,
		d.DevEUI, d.DevAddr, d.DeviceName, d.ApplicationID, d.ApplicationName, d.LastSeen, d.PacketCount,
	)
	if err != nil {
		w.metrics.IncStoreErrors()
		w.logger.Warn("storage: upsert cs_device failed", "error", err, "dev_eui", d.DevEUI)
		return
	}
	w.metrics.IncCsDeviceUpsert()
}

func (w *Writer) runPacketLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	buf := make([]model.ParsedPacket, 0, w.cfg.BatchSize)
	for {
		select {
		case pkt, ok := <-w.packets:
			if !ok {
				w.flushPackets(context.Background(), buf)
				return
			}
			buf = append(buf, pkt)
			w.metrics.ObserveQueueDepth(len(buf))
			if len(buf) >= w.cfg.BatchSize {
				buf = w.flushPackets(ctx, buf)
			}
		case <-ticker.C:
			buf = w.flushPackets(ctx, buf)
		}
	}
}

func (w *Writer) runCsPacketLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	buf := make([]model.CsPacket, 0, w.cfg.BatchSize)
	for {
		select {
		case pkt, ok := <-w.csPackets:
			if !ok {
				w.flushCsPackets(context.Background(), buf)
				return
			}
			buf = append(buf, pkt)
			if len(buf) >= w.cfg.BatchSize {
				buf = w.flushCsPackets(ctx, buf)
			}
		case <-ticker.C:
			buf = w.flushCsPackets(ctx, buf)
		}
	}
}

// flushPackets submits buf as one multi-row insert via lib/pq's CopyIn
// support. On failure the batch is returned unchanged so the caller keeps it
// buffered for the next tick.
func (w *Writer) flushPackets(ctx context.Context, buf []model.ParsedPacket) []model.ParsedPacket {
	if len(buf) == 0 {
		return buf
	}

	if err := w.copyPackets(ctx, buf); err != nil {
		w.metrics.IncStoreErrors()
		w.logger.Warn("storage: flush packets failed, will retry", "error", err, "rows", len(buf))
		return buf
	}

	w.metrics.ObserveWriterFlush("packets", len(buf))
	w.metrics.ObservePacketsStored("packets", len(buf))
	w.metrics.ObserveQueueDepth(0)
	return buf[:0]
}

func (w *Writer) copyPackets(ctx context.Context, buf []model.ParsedPacket) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("packets",
		"timestamp", "gateway_id", "border_gateway_id", "packet_type",
		"dev_addr", "join_eui", "dev_eui", "operator",
		"frequency", "spreading_factor", "bandwidth", "rssi", "snr",
		"payload_size", "airtime_us", "f_cnt", "f_port", "confirmed", "session_id",
	))
	if err != nil {
		return fmt.Errorf("storage: prepare copy: %w", err)
	}

	for _, pkt := range buf {
		if _, err := stmt.ExecContext(ctx,
			pkt.Timestamp, pkt.GatewayID, pkt.BorderGatewayID, string(pkt.PacketType),
			pkt.DevAddr, pkt.JoinEUI, pkt.DevEUI, pkt.Operator,
			pkt.Frequency, pkt.SpreadingFactor, pkt.Bandwidth, pkt.RSSI, pkt.SNR,
			pkt.PayloadSize, pkt.AirtimeUS, fcntArg(pkt.FCnt), fportArg(pkt.FPort), pkt.Confirmed, pkt.SessionID,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("storage: copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("storage: flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("storage: close copy statement: %w", err)
	}
	return tx.Commit()
}

func (w *Writer) flushCsPackets(ctx context.Context, buf []model.CsPacket) []model.CsPacket {
	if len(buf) == 0 {
		return buf
	}

	if err := w.copyCsPackets(ctx, buf); err != nil {
		w.metrics.IncStoreErrors()
		w.logger.Warn("storage: flush cs_packets failed, will retry", "error", err, "rows", len(buf))
		return buf
	}

	w.metrics.ObserveWriterFlush("cs_packets", len(buf))
	w.metrics.ObservePacketsStored("cs_packets", len(buf))
	return buf[:0]
}

func (w *Writer) copyCsPackets(ctx context.Context, buf []model.CsPacket) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("cs_packets",
		"timestamp", "dev_eui", "dev_addr", "device_name", "application_id", "operator",
		"frequency", "spreading_factor", "bandwidth", "rssi", "snr",
		"payload_size", "airtime_us", "f_cnt", "f_port", "confirmed",
	))
	if err != nil {
		return fmt.Errorf("storage: prepare copy: %w", err)
	}

	for _, pkt := range buf {
		if _, err := stmt.ExecContext(ctx,
			pkt.Timestamp, pkt.DevEUI, pkt.DevAddr, pkt.DeviceName, pkt.ApplicationID, pkt.Operator,
			pkt.Frequency, pkt.SpreadingFactor, pkt.Bandwidth, pkt.RSSI, pkt.SNR,
			pkt.PayloadSize, pkt.AirtimeUS, fcntArg(pkt.FCnt), fportArg(pkt.FPort), pkt.Confirmed,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("storage: copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("storage: flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("storage: close copy statement: %w", err)
	}
	return tx.Commit()
}

// fcntArg/fportArg widen the model's uint32 pointers to a driver-friendly
// nilable type; database/sql has no uint32 converter.
func fcntArg(v *uint32) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func fportArg(v *uint32) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
