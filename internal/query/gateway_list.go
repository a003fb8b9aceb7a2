package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// GatewayListParams selects the window a gateway-list query covers.
type GatewayListParams struct {
	Since time.Time
	Until time.Time
}

// GatewayListEntry summarises one gateway's activity within the window.
type GatewayListEntry struct {
	GatewayID     string
	PacketCount   int64
	AirtimeUS     int64
	UniqueDevices int64
}

const minGatewayPacketsShown = 10

// GatewayList reports packet and airtime totals per gateway from the hourly
// rollup, joined against a distinct-device count recomputed from raw packets
// (packets_hourly's unique_devices column is not summable across hours, so
// it cannot answer this query). Gateways below the activity floor are
// omitted so idle or misconfigured gateways don't clutter the list.
func GatewayList(ctx context.Context, db *sqlx.DB, params GatewayListParams) ([]GatewayListEntry, error) {
	const countsQuery = `
		SELECT gateway_id,
		       SUM(packet_count)::bigint AS packet_count,
		       COALESCE(SUM(airtime_us_total), 0)::bigint AS airtime_us
		FROM packets_hourly
		WHERE bucket >= $1 AND bucket < $2
		GROUP BY gateway_id`

	var counts []gatewayCountsRow
	if err := db.SelectContext(ctx, &counts, countsQuery, params.Since, params.Until); err != nil {
		return nil, fmt.Errorf("query: gateway list counts: %w", err)
	}

	const devicesQuery = `
		SELECT gateway_id, COUNT(DISTINCT dev_addr)::bigint AS unique_devices
		FROM packets
		WHERE timestamp >= $1 AND timestamp < $2 AND dev_addr IS NOT NULL
		GROUP BY gateway_id`

	var devices []gatewayDevicesRow
	if err := db.SelectContext(ctx, &devices, devicesQuery, params.Since, params.Until); err != nil {
		return nil, fmt.Errorf("query: gateway list devices: %w", err)
	}

	return mergeGatewayList(counts, devices), nil
}

type gatewayCountsRow struct {
	GatewayID   string `db:"gateway_id"`
	PacketCount int64  `db:"packet_count"`
	AirtimeUS   int64  `db:"airtime_us"`
}

type gatewayDevicesRow struct {
	GatewayID     string `db:"gateway_id"`
	UniqueDevices int64  `db:"unique_devices"`
}

// mergeGatewayList is the pure join-and-filter step: it combines the
// hourly-rollup counts with the raw distinct-device counts and drops any
// gateway below the activity floor.
func mergeGatewayList(counts []gatewayCountsRow, devices []gatewayDevicesRow) []GatewayListEntry {
	uniqueByGateway := make(map[string]int64, len(devices))
	for _, d := range devices {
		uniqueByGateway[d.GatewayID] = d.UniqueDevices
	}

	entries := make([]GatewayListEntry, 0, len(counts))
	for _, c := range counts {
		if c.PacketCount < minGatewayPacketsShown {
			continue
		}
		entries = append(entries, GatewayListEntry{
			GatewayID:     c.GatewayID,
			PacketCount:   c.PacketCount,
			AirtimeUS:     c.AirtimeUS,
			UniqueDevices: uniqueByGateway[c.GatewayID],
		})
	}
	return entries
}
