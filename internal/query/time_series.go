package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// TimeSeriesParams selects the window, bucket width, and optional filters for
// a time-series query.
type TimeSeriesParams struct {
	Since     time.Time
	Until     time.Time
	Bucket    time.Duration
	GatewayID string
	DevAddr   string
	Metric    TimeSeriesMetric
}

// TimeSeriesMetric picks which column the time series reports on.
type TimeSeriesMetric string

const (
	MetricPacketCount TimeSeriesMetric = "packet_count"
	MetricAirtimeUS   TimeSeriesMetric = "airtime_us"
)

// TimeSeriesPoint is a single bucketed value, optionally labeled by group
// (e.g. operator or packet_type) when the query groups results.
type TimeSeriesPoint struct {
	Timestamp time.Time
	Value     float64
	Group     string
}

// usesHourlyAggregate reports whether a query can be answered from the 1h
// materialized rollup: only device-unfiltered queries at bucket widths the
// rollup was built for.
func usesHourlyAggregate(params TimeSeriesParams) bool {
	if params.DevAddr != "" {
		return false
	}
	return params.Bucket >= time.Hour
}

// TimeSeries returns bucketed packet-count or airtime values across the
// window, routing to the packets_hourly continuous aggregate when the bucket
// is coarse enough and no device filter narrows the query, and to raw
// packets with time_bucket() otherwise.
func TimeSeries(ctx context.Context, db *sqlx.DB, params TimeSeriesParams) ([]TimeSeriesPoint, error) {
	if params.Bucket <= 0 {
		return nil, fmt.Errorf("query: bucket must be positive")
	}
	metric := params.Metric
	if metric == "" {
		metric = MetricPacketCount
	}

	if usesHourlyAggregate(params) {
		return timeSeriesFromHourly(ctx, db, params, metric)
	}
	return timeSeriesFromRaw(ctx, db, params, metric)
}

func timeSeriesFromHourly(ctx context.Context, db *sqlx.DB, params TimeSeriesParams, metric TimeSeriesMetric) ([]TimeSeriesPoint, error) {
	valueExpr := "SUM(packet_count)"
	if metric == MetricAirtimeUS {
		valueExpr = "SUM(airtime_us_total)"
	}

	where := []string{"bucket >= $1", "bucket < $2"}
	args := []any{params.Since, params.Until}
	if params.GatewayID != "" {
		args = append(args, params.GatewayID)
		where = append(where, fmt.Sprintf("gateway_id = $%d", len(args)))
	}

	q := fmt.Sprintf(`
		SELECT time_bucket($%d, bucket) AS ts, %s AS value
		FROM packets_hourly
		WHERE %s
		GROUP BY ts
		ORDER BY ts ASC`, len(args)+1, valueExpr, whereClause(where))
	args = append(args, params.Bucket)

	type row struct {
		Ts    time.Time `db:"ts"`
		Value float64   `db:"value"`
	}
	var rows []row
	if err := db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query: time series (hourly): %w", err)
	}

	points := make([]TimeSeriesPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, TimeSeriesPoint{Timestamp: r.Ts, Value: r.Value})
	}
	return points, nil
}

func timeSeriesFromRaw(ctx context.Context, db *sqlx.DB, params TimeSeriesParams, metric TimeSeriesMetric) ([]TimeSeriesPoint, error) {
	valueExpr := "COUNT(*)"
	if metric == MetricAirtimeUS {
		valueExpr = "COALESCE(SUM(airtime_us), 0)"
	}

	where := []string{"timestamp >= $2", "timestamp < $3"}
	args := []any{params.Bucket, params.Since, params.Until}
	if params.GatewayID != "" {
		args = append(args, params.GatewayID)
		where = append(where, fmt.Sprintf("gateway_id = $%d", len(args)))
	}
	if params.DevAddr != "" {
		args = append(args, params.DevAddr)
		where = append(where, fmt.Sprintf("dev_addr = $%d", len(args)))
	}

	q := fmt.Sprintf(`
		SELECT time_bucket($1, timestamp) AS ts, %s AS value
		FROM packets
		WHERE %s
		GROUP BY ts
		ORDER BY ts ASC`, valueExpr, whereClause(where))

	type row struct {
		Ts    time.Time `db:"ts"`
		Value float64   `db:"value"`
	}
	var rows []row
	if err := db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query: time series (raw): %w", err)
	}

	points := make([]TimeSeriesPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, TimeSeriesPoint{Timestamp: r.Ts, Value: r.Value})
	}
	return points, nil
}

func whereClause(conditions []string) string {
	out := conditions[0]
	for _, c := range conditions[1:] {
		out += " AND " + c
	}
	return out
}
