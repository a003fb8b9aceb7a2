package operator

import (
	"errors"
	"strings"

	"github.com/lorawatch/lorawan-analyzer/internal/model"
)

var errInvalidBits = errors.New("operator: invalid bits")

// netIDEntry is one row of the static LoRa Alliance NetID allocation table
// used to seed the default DevAddr ruleset before custom prefixes are layered
// on top.
type netIDEntry struct {
	name   string
	prefix uint32
	bits   int
}

// netIDTable is a representative slice of the public NetID allocation list.
// Real deployments extend this via custom_operators / operators[] config
// rather than editing this table.
var netIDTable = []netIDEntry{
	{name: "The Things Network", prefix: 0x26000000, bits: 7},
	{name: "Actility", prefix: 0x20000000, bits: 7},
	{name: "Orange", prefix: 0x21000000, bits: 7},
	{name: "KPN", prefix: 0x22000000, bits: 7},
	{name: "Swisscom", prefix: 0x23000000, bits: 7},
	{name: "Loriot", prefix: 0x24000000, bits: 7},
	{name: "Senet", prefix: 0x27000000, bits: 7},
	{name: "Helium", prefix: 0x60000000, bits: 7},
}

// BuildNetIDRules renders the static NetID table into OperatorRules at a
// fixed low priority so user-supplied custom prefixes (DefaultCustomPriority)
// always take precedence over the defaults.
func BuildNetIDRules() []model.OperatorRule {
	const netIDPriority = 10
	rules := make([]model.OperatorRule, 0, len(netIDTable))
	for _, e := range netIDTable {
		rules = append(rules, model.OperatorRule{
			Prefix:   e.prefix,
			Mask:     MaskForBits(e.bits),
			Bits:     e.bits,
			Name:     e.name,
			Priority: netIDPriority,
		})
	}
	return rules
}

// RulesFromCustomOperators converts DB-persisted custom operators into
// OperatorRules, parsing "PREFIX/BITS" CIDR-style prefix strings.
func RulesFromCustomOperators(customs []model.CustomOperator) []model.OperatorRule {
	rules := make([]model.OperatorRule, 0, len(customs))
	for _, c := range customs {
		prefix, bits, ok := parseCIDRPrefix(c.Prefix)
		if !ok {
			continue
		}
		priority := c.Priority
		if priority == 0 {
			priority = DefaultCustomPriority
		}
		rules = append(rules, model.OperatorRule{
			Prefix:   prefix,
			Mask:     MaskForBits(bits),
			Bits:     bits,
			Name:     c.Name,
			Priority: priority,
			Color:    c.Color,
		})
	}
	return rules
}

// parseCIDRPrefix parses a "AABBCCDD/N" hex-prefix/bits string.
func parseCIDRPrefix(s string) (uint32, int, bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	addr, err := ParseDevAddr(parts[0])
	if err != nil {
		return 0, 0, false
	}
	bits, err := parseBits(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return addr & MaskForBits(bits), bits, true
}

func parseBits(s string) (int, error) {
	v := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errInvalidBits
		}
		v = v*10 + int(c-'0')
	}
	return v, nil
}

