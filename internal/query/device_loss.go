package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DeviceLossParams selects the window and device a loss computation covers.
type DeviceLossParams struct {
	DevAddr string
	Since   time.Time
	Until   time.Time
}

// GatewayLoss is the per-gateway breakdown of a DeviceLossResult.
type GatewayLoss struct {
	GatewayID  string
	Received   int64
	Missed     int64
	LossPercent float64
}

// DeviceLossResult is the overall and per-gateway frame-counter gap accounting
// for one device across a window.
type DeviceLossResult struct {
	DevAddr     string
	Received    int64
	Missed      int64
	LossPercent float64
	PerGateway  []GatewayLoss
}

type lossRow struct {
	GatewayID string `db:"gateway_id"`
	SessionID string `db:"session_id"`
	FCnt      uint32 `db:"f_cnt"`
}

// gapSum walks rows already ordered by timestamp within each session_id and
// returns (received, missed). A gap is only counted when positive —
// out-of-order or duplicate fcnt readings never produce negative "missed"
// credit, and a session_id change resets continuity tracking so a rejoin
// never charges a gap across the frame-counter reset boundary.
func gapSum(rows []lossRow) (received, missed int64) {
	lastFCnt := map[string]uint32{}
	haveLast := map[string]bool{}

	for _, row := range rows {
		received++
		if haveLast[row.SessionID] {
			prev := lastFCnt[row.SessionID]
			if row.FCnt > prev {
				if gap := int64(row.FCnt) - int64(prev) - 1; gap > 0 {
					missed += gap
				}
			}
		}
		lastFCnt[row.SessionID] = row.FCnt
		haveLast[row.SessionID] = true
	}
	return received, missed
}

// computeDeviceLoss is the pure gap-accounting core. rows must already be
// ordered by (session_id, timestamp). The overall figure walks the device's
// full sequence; the per-gateway breakdown re-walks the same ordered rows
// filtered to each gateway. Every row counts as received in the overall
// total, so a frame heard by several gateways counts once per gateway there,
// and it contributes to the continuity sequence of each gateway that heard it.
func computeDeviceLoss(rows []lossRow) DeviceLossResult {
	result := DeviceLossResult{}
	result.Received, result.Missed = gapSum(rows)
	result.LossPercent = lossPercent(result.Received, result.Missed)

	gwOrder := make([]string, 0)
	gwRows := map[string][]lossRow{}
	for _, row := range rows {
		if _, ok := gwRows[row.GatewayID]; !ok {
			gwOrder = append(gwOrder, row.GatewayID)
		}
		gwRows[row.GatewayID] = append(gwRows[row.GatewayID], row)
	}

	result.PerGateway = make([]GatewayLoss, 0, len(gwOrder))
	for _, id := range gwOrder {
		received, missed := gapSum(gwRows[id])
		result.PerGateway = append(result.PerGateway, GatewayLoss{
			GatewayID:   id,
			Received:    received,
			Missed:      missed,
			LossPercent: lossPercent(received, missed),
		})
	}
	return result
}

func lossPercent(received, missed int64) float64 {
	denom := received + missed
	if denom == 0 {
		return 0
	}
	return float64(missed) / float64(denom) * 100
}

// DeviceLoss computes a device's uplink loss over the window, grouping
// frame-counter continuity per session_id so a rejoin never double-counts a
// gap across the reset boundary.
func DeviceLoss(ctx context.Context, db *sqlx.DB, params DeviceLossParams) (DeviceLossResult, error) {
	if params.DevAddr == "" {
		return DeviceLossResult{}, fmt.Errorf("query: device addr must be provided")
	}

	const q = `
		SELECT gateway_id, COALESCE(session_id, '') AS session_id, f_cnt
		FROM packets
		WHERE dev_addr = $1
		  AND f_cnt IS NOT NULL
		  AND timestamp >= $2 AND timestamp < $3
		ORDER BY session_id, timestamp ASC`

	var rows []lossRow
	if err := db.SelectContext(ctx, &rows, q, params.DevAddr, params.Since, params.Until); err != nil {
		return DeviceLossResult{}, fmt.Errorf("query: device loss: %w", err)
	}

	result := computeDeviceLoss(rows)
	result.DevAddr = params.DevAddr
	return result, nil
}
