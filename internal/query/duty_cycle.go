package query

import (
	"context"
	"fmt"
	"time"

	"github.com/lorawatch/lorawan-analyzer/internal/model"

	"github.com/jmoiron/sqlx"
)

// DutyCycleParams selects the window and optional gateway filter for a duty
// cycle computation.
type DutyCycleParams struct {
	Since     time.Time
	Until     time.Time
	GatewayID string
}

// DutyCycleResult is one gateway's RX/TX duty cycle over the window.
type DutyCycleResult struct {
	GatewayID           string
	RxAirtimePercent    float64
	TxDutyCyclePercent  float64
}

type dutyCycleRow struct {
	GatewayID  string `db:"gateway_id"`
	PacketType string `db:"packet_type"`
	AirtimeUS  int64  `db:"airtime_us"`
}

// DutyCycle reports RX airtime percent (uplinks, join requests) and TX duty
// cycle percent (downlinks, tx acks carry no airtime of their own but the
// accompanying downlink does) per gateway across the window. It returns one
// result per gateway whether or not a gateway filter is set; it does not
// average them. AverageDutyCycle collapses the results into one figure.
func DutyCycle(ctx context.Context, db *sqlx.DB, params DutyCycleParams) ([]DutyCycleResult, error) {
	if !params.Until.After(params.Since) {
		return nil, fmt.Errorf("query: until must be after since")
	}
	windowUS := float64(params.Until.Sub(params.Since).Microseconds())
	if windowUS <= 0 {
		return nil, fmt.Errorf("query: window too small to compute duty cycle")
	}

	where := []string{"timestamp >= $1", "timestamp < $2"}
	args := []any{params.Since, params.Until}
	if params.GatewayID != "" {
		args = append(args, params.GatewayID)
		where = append(where, fmt.Sprintf("gateway_id = $%d", len(args)))
	}

	q := fmt.Sprintf(`
		SELECT gateway_id, packet_type, COALESCE(SUM(airtime_us), 0)::bigint AS airtime_us
		FROM packets
		WHERE %s
		GROUP BY gateway_id, packet_type`, whereClause(where))

	var rows []dutyCycleRow
	if err := db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query: duty cycle: %w", err)
	}

	return computeDutyCycle(rows, windowUS), nil
}

func computeDutyCycle(rows []dutyCycleRow, windowUS float64) []DutyCycleResult {
	rxByGateway := map[string]int64{}
	txByGateway := map[string]int64{}
	order := make([]string, 0)
	seen := map[string]bool{}

	for _, row := range rows {
		if !seen[row.GatewayID] {
			seen[row.GatewayID] = true
			order = append(order, row.GatewayID)
		}
		switch model.PacketType(row.PacketType) {
		case model.PacketTypeData, model.PacketTypeJoinRequest:
			rxByGateway[row.GatewayID] += row.AirtimeUS
		case model.PacketTypeDownlink:
			txByGateway[row.GatewayID] += row.AirtimeUS
		}
	}

	results := make([]DutyCycleResult, 0, len(order))
	for _, gw := range order {
		results = append(results, DutyCycleResult{
			GatewayID:          gw,
			RxAirtimePercent:   float64(rxByGateway[gw]) / windowUS * 100,
			TxDutyCyclePercent: float64(txByGateway[gw]) / windowUS * 100,
		})
	}
	return results
}

// AverageDutyCycle collapses a multi-gateway DutyCycle result into a single
// network-wide figure by averaging percentages, per the no-gateway-filter
// rule: summing duty cycle percentages across independent radios would not
// mean anything physically.
func AverageDutyCycle(results []DutyCycleResult) DutyCycleResult {
	if len(results) == 0 {
		return DutyCycleResult{}
	}
	var rxSum, txSum float64
	for _, r := range results {
		rxSum += r.RxAirtimePercent
		txSum += r.TxDutyCyclePercent
	}
	n := float64(len(results))
	return DutyCycleResult{
		RxAirtimePercent:   rxSum / n,
		TxDutyCyclePercent: txSum / n,
	}
}
