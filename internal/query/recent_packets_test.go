package query

import (
	"strings"
	"testing"
	"time"
)

func TestBuildRecentPacketsQueryFallsBackToUnfiltered(t *testing.T) {
	q, args := buildRecentPacketsQuery(RecentPacketsParams{})
	if !strings.Contains(q, "WHERE 1=1") {
		t.Fatalf("expected unfiltered query to fall back to 1=1, got: %s", q)
	}
	if len(args) != 1 {
		t.Fatalf("expected only the limit arg, got %d args: %v", len(args), args)
	}
	if args[0] != defaultRecentPacketsLimit {
		t.Fatalf("expected default limit %d, got %v", defaultRecentPacketsLimit, args[0])
	}
}

func TestBuildRecentPacketsQueryAddsFilters(t *testing.T) {
	params := RecentPacketsParams{
		GatewayID: "gw-1",
		DevAddr:   "01020304",
		Operator:  "acme-lora",
	}
	q, args := buildRecentPacketsQuery(params)

	if !strings.Contains(q, "gateway_id = $1") {
		t.Fatalf("expected gateway filter placeholder, got: %s", q)
	}
	if !strings.Contains(q, "dev_addr = $2") {
		t.Fatalf("expected dev_addr filter placeholder, got: %s", q)
	}
	if !strings.Contains(q, "operator = $3") {
		t.Fatalf("expected operator filter placeholder, got: %s", q)
	}
	if len(args) != 4 {
		t.Fatalf("expected 3 filter args + limit, got %d: %v", len(args), args)
	}
	if args[0] != "gw-1" || args[1] != "01020304" || args[2] != "acme-lora" {
		t.Fatalf("unexpected arg values: %v", args)
	}
}

func TestBuildRecentPacketsQueryClampsLimit(t *testing.T) {
	_, args := buildRecentPacketsQuery(RecentPacketsParams{Limit: 1_000_000})
	if args[len(args)-1] != maxRecentPacketsLimit {
		t.Fatalf("expected limit clamped to %d, got %v", maxRecentPacketsLimit, args[len(args)-1])
	}
}

func TestBuildRecentPacketsQueryTimeRangePlacement(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)
	q, args := buildRecentPacketsQuery(RecentPacketsParams{Since: since, Until: until})

	if !strings.Contains(q, "timestamp >= $1") || !strings.Contains(q, "timestamp < $2") {
		t.Fatalf("expected ordered time-range placeholders, got: %s", q)
	}
	if args[0] != since || args[1] != until {
		t.Fatalf("unexpected time args: %v", args)
	}
}
