package query

import "testing"

func TestComputeDeviceLossLiteralSequence(t *testing.T) {
	rows := make([]lossRow, 0)
	for _, fcnt := range []uint32{5, 6, 8, 9, 12} {
		rows = append(rows, lossRow{GatewayID: "gw-1", SessionID: "s1", FCnt: fcnt})
	}

	result := computeDeviceLoss(rows)

	if result.Received != 5 {
		t.Fatalf("expected received=5, got %d", result.Received)
	}
	if result.Missed != 3 {
		t.Fatalf("expected missed=3, got %d", result.Missed)
	}
	if result.LossPercent != 37.5 {
		t.Fatalf("expected loss%%=37.5, got %v", result.LossPercent)
	}
	if len(result.PerGateway) != 1 || result.PerGateway[0].Missed != 3 {
		t.Fatalf("expected single gateway with missed=3, got %+v", result.PerGateway)
	}
}

func TestComputeDeviceLossNoGapsWhenContiguous(t *testing.T) {
	rows := []lossRow{
		{GatewayID: "gw-1", SessionID: "s1", FCnt: 1},
		{GatewayID: "gw-1", SessionID: "s1", FCnt: 2},
		{GatewayID: "gw-1", SessionID: "s1", FCnt: 3},
	}
	result := computeDeviceLoss(rows)
	if result.Missed != 0 || result.Received != 3 || result.LossPercent != 0 {
		t.Fatalf("expected no loss, got %+v", result)
	}
}

func TestComputeDeviceLossResetsAcrossSessions(t *testing.T) {
	rows := []lossRow{
		{GatewayID: "gw-1", SessionID: "s1", FCnt: 40},
		{GatewayID: "gw-1", SessionID: "s2", FCnt: 0},
		{GatewayID: "gw-1", SessionID: "s2", FCnt: 1},
	}
	result := computeDeviceLoss(rows)
	if result.Missed != 0 {
		t.Fatalf("expected session reset to avoid a spurious gap, got missed=%d", result.Missed)
	}
	if result.Received != 3 {
		t.Fatalf("expected received=3, got %d", result.Received)
	}
}

func TestComputeDeviceLossPerGatewaySplitsIndependently(t *testing.T) {
	rows := []lossRow{
		{GatewayID: "gw-1", SessionID: "s1", FCnt: 1},
		{GatewayID: "gw-2", SessionID: "s1", FCnt: 1},
		{GatewayID: "gw-1", SessionID: "s1", FCnt: 3},
		{GatewayID: "gw-2", SessionID: "s1", FCnt: 2},
	}
	result := computeDeviceLoss(rows)

	// Overall sequence (by arrival order) is 1,1,3,2: only the 1->3 jump
	// within gw-1's own subsequence is a genuine gap.
	byGateway := map[string]GatewayLoss{}
	for _, gw := range result.PerGateway {
		byGateway[gw.GatewayID] = gw
	}

	if byGateway["gw-1"].Missed != 1 {
		t.Fatalf("expected gw-1 missed=1 for the 1->3 jump, got %+v", byGateway["gw-1"])
	}
	if byGateway["gw-2"].Missed != 0 {
		t.Fatalf("expected gw-2 missed=0 for the contiguous 1->2 run, got %+v", byGateway["gw-2"])
	}
}

func TestLossPercentZeroDenominator(t *testing.T) {
	if got := lossPercent(0, 0); got != 0 {
		t.Fatalf("expected 0 for zero denominator, got %v", got)
	}
}
