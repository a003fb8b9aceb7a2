package broadcast

import (
	"strings"

	"github.com/lorawatch/lorawan-analyzer/internal/model"
	"github.com/lorawatch/lorawan-analyzer/internal/operator"
)

// SourceMode restricts a subscriber to one packet stream.
type SourceMode string

const (
	SourceGateway    SourceMode = "gateway"
	SourceChirpstack SourceMode = "chirpstack"
)

// FilterMode selects device-ownership inclusion or exclusion semantics.
type FilterMode string

const (
	FilterOwned   FilterMode = "owned"
	FilterForeign FilterMode = "foreign"
)

// PrefixRule is a DevAddr CIDR-style prefix used by the ownership predicate.
type PrefixRule struct {
	Prefix uint32
	Mask   uint32
}

// Filter is the tagged struct a subscriber's live-feed predicate compiles
// to.
type Filter struct {
	GatewayID   *string
	GatewayIDs  map[string]struct{}
	PacketTypes map[model.PacketType]struct{}
	RSSIMin     *int32
	RSSIMax     *int32
	FilterMode  FilterMode
	Prefixes    []PrefixRule
	Search      *string
	SourceMode  SourceMode
}

// searchableFields is the whitelisted set of text fields substring search
// matches against, case-insensitively.
type searchableFields struct {
	gatewayID    string
	gatewayName  string
	gatewayAlias string
	gatewayGroup string
	operator     string
	devAddr      string
	devEUI       string
	joinEUI      string
}

// Matches evaluates every predicate in turn; a single failing predicate
// drops the packet for this subscriber.
func (f Filter) Matches(pkt model.ParsedPacket, fields searchableFields) bool {
	if f.GatewayID != nil && pkt.GatewayID != *f.GatewayID {
		return false
	}
	if len(f.GatewayIDs) > 0 {
		if _, ok := f.GatewayIDs[pkt.GatewayID]; !ok {
			return false
		}
	}
	if len(f.PacketTypes) > 0 {
		if _, ok := f.PacketTypes[pkt.PacketType]; !ok {
			return false
		}
	}
	if pkt.PacketType == model.PacketTypeData || pkt.PacketType == model.PacketTypeJoinRequest {
		if f.RSSIMin != nil && (pkt.RSSI == nil || *pkt.RSSI < *f.RSSIMin) {
			return false
		}
		if f.RSSIMax != nil && (pkt.RSSI == nil || *pkt.RSSI > *f.RSSIMax) {
			return false
		}
	}
	if !f.matchesOwnership(pkt) {
		return false
	}
	if f.Search != nil && !matchesSearch(*f.Search, fields) {
		return false
	}
	return true
}

// matchesOwnership implements the longest-prefix owned/foreign predicate.
// Packets without a DevAddr (join requests, tx-acks) or with an unparseable
// one always pass through; downlinks carrying a DevAddr are filtered like
// data packets.
func (f Filter) matchesOwnership(pkt model.ParsedPacket) bool {
	if len(f.Prefixes) == 0 {
		return true
	}
	if pkt.DevAddr == nil {
		return true
	}
	addr, err := operator.ParseDevAddr(*pkt.DevAddr)
	if err != nil {
		return true
	}

	owned := false
	for _, p := range f.Prefixes {
		if addr&p.Mask == p.Prefix {
			owned = true
			break
		}
	}

	switch f.FilterMode {
	case FilterForeign:
		return !owned
	default: // FilterOwned
		return owned
	}
}

// MatchesPacket evaluates the filter using only the packet's own fields,
// without gateway-name/alias/group enrichment from the broadcaster's cache.
// Broadcaster.WritePacket uses the fuller searchFieldsFor instead; this is
// exposed for testing individual predicates in isolation.
func (f Filter) MatchesPacket(pkt model.ParsedPacket) bool {
	fields := searchableFields{
		gatewayID: pkt.GatewayID,
		operator:  pkt.Operator,
	}
	if pkt.DevAddr != nil {
		fields.devAddr = *pkt.DevAddr
	}
	if pkt.DevEUI != nil {
		fields.devEUI = *pkt.DevEUI
	}
	if pkt.JoinEUI != nil {
		fields.joinEUI = *pkt.JoinEUI
	}
	return f.Matches(pkt, fields)
}

func matchesSearch(needle string, fields searchableFields) bool {
	needle = strings.ToLower(needle)
	haystacks := []string{
		fields.gatewayID, fields.gatewayName, fields.gatewayAlias, fields.gatewayGroup,
		fields.operator, fields.devAddr, fields.devEUI, fields.joinEUI,
	}
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

