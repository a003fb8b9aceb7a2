// Package operator resolves a DevAddr or JoinEUI to a human-readable
// operator name via a longest-prefix lookup over an ordered ruleset.
package operator

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/lorawatch/lorawan-analyzer/internal/model"
)

const (
	// Unknown is returned when no rule matches a DevAddr or JoinEUI.
	Unknown = "Unknown"
	// Private is returned for JoinEUIs that decode as printable ASCII but
	// match no rule.
	Private = "Private"

	// DefaultCustomPriority is the default priority assigned to
	// user-supplied custom prefixes.
	DefaultCustomPriority = 100
)

// Matcher holds an atomically-swappable ruleset snapshot, so reloads never
// block in-flight lookups.
type Matcher struct {
	devAddrRules atomic.Pointer[[]model.OperatorRule]
	joinEUIRules atomic.Pointer[[]model.OperatorRule]
}

// NewMatcher constructs a Matcher with empty rulesets.
func NewMatcher() *Matcher {
	m := &Matcher{}
	empty := []model.OperatorRule{}
	m.devAddrRules.Store(&empty)
	joinEmpty := []model.OperatorRule{}
	m.joinEUIRules.Store(&joinEmpty)
	return m
}

// ReloadDevAddrRules atomically swaps in a new DevAddr ruleset. Rules are
// sorted by descending priority, then descending bits, then insertion order.
func (m *Matcher) ReloadDevAddrRules(rules []model.OperatorRule) {
	sorted := sortRules(rules)
	m.devAddrRules.Store(&sorted)
}

// ReloadJoinEUIRules atomically swaps in a new JoinEUI prefix ruleset.
func (m *Matcher) ReloadJoinEUIRules(rules []model.OperatorRule) {
	sorted := sortRules(rules)
	m.joinEUIRules.Store(&sorted)
}

func sortRules(rules []model.OperatorRule) []model.OperatorRule {
	sorted := make([]model.OperatorRule, len(rules))
	copy(sorted, rules)
	for i := range sorted {
		sorted[i].Seq = i
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		if sorted[i].Bits != sorted[j].Bits {
			return sorted[i].Bits > sorted[j].Bits
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return sorted
}

// MatchDevAddr resolves a 4-byte hex DevAddr string to an operator name.
func (m *Matcher) MatchDevAddr(devAddrHex string) string {
	addr, err := ParseDevAddr(devAddrHex)
	if err != nil {
		return Unknown
	}
	rules := *m.devAddrRules.Load()
	for _, r := range rules {
		if addr&r.Mask == r.Prefix {
			return r.Name
		}
	}
	return Unknown
}

// MatchJoinEUI resolves an 8-byte hex JoinEUI string to an operator/manufacturer
// name, falling back to "Private" when the bytes decode as printable ASCII
// and no rule matched, or "Unknown" otherwise.
func (m *Matcher) MatchJoinEUI(joinEUIHex string) string {
	b, err := hex.DecodeString(joinEUIHex)
	if err != nil || len(b) != 8 {
		return Unknown
	}

	addr := uint32(0)
	// JoinEUI rules match against the top 32 bits of the 64-bit EUI, mirroring
	// the DevAddr prefix-table shape.
	if len(b) >= 4 {
		addr = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}

	rules := *m.joinEUIRules.Load()
	for _, r := range rules {
		if addr&r.Mask == r.Prefix {
			return r.Name
		}
	}

	if isPrintableASCII(b) {
		return Private
	}
	return Unknown
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// ParseDevAddr parses a big-endian hex DevAddr string into its 32-bit value.
func ParseDevAddr(devAddrHex string) (uint32, error) {
	trimmed := strings.TrimSpace(devAddrHex)
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// MaskForBits returns the contiguous high-bit mask for the given prefix length.
func MaskForBits(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	if bits >= 32 {
		return 0xFFFFFFFF
	}
	return ^uint32(0) << (32 - bits)
}
