package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ChannelSFParams selects the window and optional gateway/device filters for
// a channel/spreading-factor distribution query.
type ChannelSFParams struct {
	Since     time.Time
	Until     time.Time
	GatewayID string
	DevAddr   string
}

// ChannelSFEntry is one (frequency, spreading factor) bucket's activity.
type ChannelSFEntry struct {
	Frequency       int64 `db:"frequency"`
	SpreadingFactor int   `db:"spreading_factor"`
	PacketCount     int64 `db:"packet_count"`
	AirtimeUS       int64 `db:"airtime_us"`
}

// windowAtLeastHour reports whether the window is wide enough for the
// hourly continuous aggregate to answer without losing bucket resolution.
func windowAtLeastHour(since, until time.Time) bool {
	return until.Sub(since) >= time.Hour
}

// ChannelSFDistribution reports per-channel, per-SF packet and airtime
// totals, preferring the packets_channel_sf_hourly aggregate when the
// window is wide enough and no device filter narrows the query to a
// resolution the aggregate can't provide.
func ChannelSFDistribution(ctx context.Context, db *sqlx.DB, params ChannelSFParams) ([]ChannelSFEntry, error) {
	if params.DevAddr == "" && windowAtLeastHour(params.Since, params.Until) {
		return channelSFFromHourly(ctx, db, params)
	}
	return channelSFFromRaw(ctx, db, params)
}

func channelSFFromHourly(ctx context.Context, db *sqlx.DB, params ChannelSFParams) ([]ChannelSFEntry, error) {
	where := []string{"bucket >= $1", "bucket < $2"}
	args := []any{params.Since, params.Until}
	if params.GatewayID != "" {
		args = append(args, params.GatewayID)
		where = append(where, fmt.Sprintf("gateway_id = $%d", len(args)))
	}

	q := fmt.Sprintf(`
		SELECT frequency, spreading_factor,
		       SUM(packet_count)::bigint AS packet_count,
		       COALESCE(SUM(airtime_us_total), 0)::bigint AS airtime_us
		FROM packets_channel_sf_hourly
		WHERE %s
		GROUP BY frequency, spreading_factor
		ORDER BY frequency, spreading_factor`, whereClause(where))

	var rows []ChannelSFEntry
	if err := db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query: channel/sf distribution (hourly): %w", err)
	}
	return rows, nil
}

func channelSFFromRaw(ctx context.Context, db *sqlx.DB, params ChannelSFParams) ([]ChannelSFEntry, error) {
	where := []string{"timestamp >= $1", "timestamp < $2"}
	args := []any{params.Since, params.Until}
	if params.GatewayID != "" {
		args = append(args, params.GatewayID)
		where = append(where, fmt.Sprintf("gateway_id = $%d", len(args)))
	}
	if params.DevAddr != "" {
		args = append(args, params.DevAddr)
		where = append(where, fmt.Sprintf("dev_addr = $%d", len(args)))
	}

	q := fmt.Sprintf(`
		SELECT frequency, COALESCE(spreading_factor, 0) AS spreading_factor,
		       COUNT(*)::bigint AS packet_count,
		       COALESCE(SUM(airtime_us), 0)::bigint AS airtime_us
		FROM packets
		WHERE %s
		GROUP BY frequency, COALESCE(spreading_factor, 0)
		ORDER BY frequency, spreading_factor`, whereClause(where))

	var rows []ChannelSFEntry
	if err := db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query: channel/sf distribution (raw): %w", err)
	}
	return rows, nil
}
