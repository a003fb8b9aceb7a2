package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// RecentPacketsParams is the filter bag a recent-packets query is built
// from; unset fields are simply omitted from the WHERE clause, which falls
// back to "1=1" when nothing narrows the query.
type RecentPacketsParams struct {
	Since      time.Time
	Until      time.Time
	GatewayID  string
	DevAddr    string
	Operator   string
	PacketType string
	Limit      int
}

// RecentPacket is one row of the recent-packets result set.
type RecentPacket struct {
	Timestamp       time.Time `db:"timestamp"`
	GatewayID       string    `db:"gateway_id"`
	PacketType      string    `db:"packet_type"`
	DevAddr         *string   `db:"dev_addr"`
	Operator        string    `db:"operator"`
	Frequency       *int64    `db:"frequency"`
	SpreadingFactor *int      `db:"spreading_factor"`
	RSSI            *int32    `db:"rssi"`
	SNR             *float64  `db:"snr"`
	AirtimeUS       int64     `db:"airtime_us"`
	FCnt            *uint32   `db:"f_cnt"`
}

const (
	defaultRecentPacketsLimit = 200
	maxRecentPacketsLimit     = 2000
)

// buildRecentPacketsQuery is the pure query-building step: it turns a
// filter bag into SQL text plus positional args, falling back to "1=1"
// when no filter narrows the query, matching the builder pattern used
// elsewhere in this lineage for ad-hoc filtered list queries.
func buildRecentPacketsQuery(params RecentPacketsParams) (string, []any) {
	where := []string{"1=1"}
	args := make([]any, 0, 8)

	if !params.Since.IsZero() {
		args = append(args, params.Since)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !params.Until.IsZero() {
		args = append(args, params.Until)
		where = append(where, fmt.Sprintf("timestamp < $%d", len(args)))
	}
	if params.GatewayID != "" {
		args = append(args, params.GatewayID)
		where = append(where, fmt.Sprintf("gateway_id = $%d", len(args)))
	}
	if params.DevAddr != "" {
		args = append(args, params.DevAddr)
		where = append(where, fmt.Sprintf("dev_addr = $%d", len(args)))
	}
	if params.Operator != "" {
		args = append(args, params.Operator)
		where = append(where, fmt.Sprintf("operator = $%d", len(args)))
	}
	if params.PacketType != "" {
		args = append(args, params.PacketType)
		where = append(where, fmt.Sprintf("packet_type = $%d", len(args)))
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultRecentPacketsLimit
	}
	if limit > maxRecentPacketsLimit {
		limit = maxRecentPacketsLimit
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT timestamp, gateway_id, packet_type, dev_addr, operator,
		       frequency, spreading_factor, rssi, snr, airtime_us, f_cnt
		FROM packets
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT $%d`, strings.Join(where, " AND "), len(args))

	return q, args
}

// RecentPackets builds a parameterized query from params, matching the
// shape of "WHERE 1=1 AND ..." builders elsewhere in this codebase's
// lineage but using Postgres $N placeholders instead of driver-level "?".
func RecentPackets(ctx context.Context, db *sqlx.DB, params RecentPacketsParams) ([]RecentPacket, error) {
	q, args := buildRecentPacketsQuery(params)

	var rows []RecentPacket
	if err := db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query: recent packets: %w", err)
	}
	return rows, nil
}
