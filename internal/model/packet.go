// Package model defines the canonical records produced and persisted by the
// ingestion pipeline.
package model

import "time"

// PacketType enumerates the kinds of ParsedPacket rows the pipeline emits.
type PacketType string

const (
	PacketTypeData        PacketType = "data"
	PacketTypeJoinRequest PacketType = "join_request"
	PacketTypeDownlink    PacketType = "downlink"
	PacketTypeTxAck       PacketType = "tx_ack"
)

// ParsedPacket is the canonical record emitted by the gateway-side pipeline.
type ParsedPacket struct {
	Timestamp       time.Time
	GatewayID       string
	BorderGatewayID *string
	PacketType      PacketType

	DevAddr *string
	JoinEUI *string
	DevEUI  *string

	Operator string

	Frequency       *int64
	SpreadingFactor *int
	Bandwidth       *int64
	RSSI            *int32
	SNR             *float64
	PayloadSize     int

	AirtimeUS int64

	FCnt      *uint32
	FPort     *uint32
	Confirmed *bool

	SessionID *string
}

// CsPacket is the application-sourced shadow of an uplink, keyed on DevEUI.
type CsPacket struct {
	Timestamp     time.Time
	DevEUI        string
	DevAddr       *string
	DeviceName    string
	ApplicationID string
	Operator      string

	Frequency       *int64
	SpreadingFactor *int
	Bandwidth       *int64
	RSSI            *int32
	SNR             *float64
	PayloadSize     int
	AirtimeUS       int64

	FCnt      *uint32
	FPort     *uint32
	Confirmed *bool
}

// Gateway is the metadata record for a single gateway id.
type Gateway struct {
	GatewayID string
	Name      *string
	Alias     *string
	GroupName *string
	FirstSeen time.Time
	LastSeen  time.Time
	Latitude  *float64
	Longitude *float64
}

// CsDevice is the metadata record for a single DevEUI seen on the application bus.
type CsDevice struct {
	DevEUI          string
	DevAddr         *string
	DeviceName      string
	ApplicationID   string
	ApplicationName *string
	LastSeen        time.Time
	PacketCount     int64
}

// OperatorRule is one entry of the (immutable once loaded) operator ruleset.
type OperatorRule struct {
	Prefix   uint32
	Mask     uint32
	Bits     int
	Name     string
	Priority int
	Color    *string
	// seq preserves insertion order for deterministic tie-breaking.
	Seq int
}

// SessionContext is the in-memory, transient Join→DevAddr correlation record.
type SessionContext struct {
	DevEUI    string
	JoinEUI   string
	SessionID string
	CreatedAt time.Time
	LastSeen  time.Time
}

// HideRule suppresses rows in the query layer.
type HideRule struct {
	Type        HideRuleType
	Prefix      string
	Description string
}

// HideRuleType enumerates the prefix kinds a HideRule can apply to.
type HideRuleType string

const (
	HideRuleDevAddr HideRuleType = "dev_addr"
	HideRuleJoinEUI HideRuleType = "join_eui"
)

// CsEventType enumerates the application-bus control events that have no
// persisted row but still reach chirpstack-mode live subscribers.
type CsEventType string

const (
	CsEventTxAck    CsEventType = "tx_ack"
	CsEventAck      CsEventType = "ack"
	CsEventDownlink CsEventType = "downlink"
)

// CsEvent is an application-bus control event: a downlink tx-ack,
// acknowledgement, or outbound command. It carries no rx-info and is never
// written to storage, only broadcast to chirpstack-mode subscribers.
type CsEvent struct {
	Timestamp time.Time
	DevEUI    string
	Type      CsEventType
	Status    string

	PayloadSize int
	FPort       *uint32
	Confirmed   *bool
}

// CustomOperator is a DB-persisted operator rule.
type CustomOperator struct {
	ID       int64
	Prefix   string
	Name     string
	Priority int
	Color    *string
}
