package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDecode is wrapped by every decode failure; callers log once and drop
// the message.
var ErrDecode = errors.New("decode: malformed event")

// Format selects which wire encoding a gateway-bridge sub-decoder expects.
type Format string

const (
	FormatProtobuf Format = "protobuf"
	FormatJSON     Format = "json"
)

// GatewayFrame is the set of fields extracted from a gateway uplink/downlink
// envelope, regardless of wire encoding.
type GatewayFrame struct {
	PHYPayload []byte

	Frequency  *int64
	SF         *int
	Bandwidth  *int64
	CodingRate *string

	GatewayID       string
	RSSI            *int32
	SNR             *float64
	Timestamp       *time.Time
	Latitude        *float64
	Longitude       *float64
	GatewayName     *string
	RelayID         *string
	BorderGatewayID *string
}

// GatewayAck is the status/correlation id pair carried by a tx-ack event.
type GatewayAck struct {
	DownlinkID int64
	Status     string
}

// ackStatusNames maps the small closed set of ChirpStack gateway-bridge
// tx-ack status codes to the human-readable names the pipeline stores in the
// packet's operator column.
var ackStatusNames = map[int]string{
	0: "OK",
	1: "TooLate",
	2: "TooEarly",
	3: "CollisionPacket",
	4: "CollisionBeacon",
	5: "TxFreq",
	6: "TxPower",
	7: "GpsUnlocked",
	8: "QueueFull",
	9: "InternalError",
	10: "DutyCycleOverflow",
}

// AckStatusName renders a numeric tx-ack status code as its human-readable
// name, falling back to the numeric value when unrecognized.
func AckStatusName(code int) string {
	if name, ok := ackStatusNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Status%d", code)
}

// jsonAckStatusCodes maps the SCREAMING_SNAKE_CASE enum names the
// gateway-bridge JSON envelope carries to the same numeric codes the
// protobuf path decodes, so both wire forms resolve through AckStatusName.
var jsonAckStatusCodes = map[string]int{
	"OK":                  0,
	"TOO_LATE":            1,
	"TOO_EARLY":           2,
	"COLLISION_PACKET":    3,
	"COLLISION_BEACON":    4,
	"TX_FREQ":             5,
	"TX_POWER":            6,
	"GPS_UNLOCKED":        7,
	"QUEUE_FULL":          8,
	"INTERNAL_ERROR":      9,
	"DUTY_CYCLE_OVERFLOW": 10,
}

// ackStatusNameFromJSON renders a JSON tx-ack status string as the same
// human-readable name AckStatusName produces for the protobuf path, falling
// back to the raw string when it isn't one of the known enum names.
func ackStatusNameFromJSON(status string) string {
	if code, ok := jsonAckStatusCodes[status]; ok {
		return AckStatusName(code)
	}
	return status
}

// DecodeGatewayFrame decodes a gateway-bridge uplink/downlink envelope in the
// given wire format. The frame's GatewayID is the rx-info gateway id, or
// gatewayIDFromTopic when the envelope carries none. When the envelope
// carries a relay_id metadata key, GatewayID becomes the relay id and
// BorderGatewayID records gatewayIDFromTopic.
func DecodeGatewayFrame(payload []byte, format Format, gatewayIDFromTopic string) (GatewayFrame, error) {
	var frame GatewayFrame
	var err error

	switch format {
	case FormatJSON:
		frame, err = decodeGatewayFrameJSON(payload)
	default:
		frame, err = decodeGatewayFrameProto(payload)
	}
	if err != nil {
		return GatewayFrame{}, err
	}

	if frame.RelayID != nil {
		border := gatewayIDFromTopic
		frame.BorderGatewayID = &border
		frame.GatewayID = *frame.RelayID
	} else if frame.GatewayID == "" {
		frame.GatewayID = gatewayIDFromTopic
	}

	return frame, nil
}

// DecodeGatewayAck decodes a tx-ack envelope.
func DecodeGatewayAck(payload []byte, format Format) (GatewayAck, error) {
	if format == FormatJSON {
		return decodeGatewayAckJSON(payload)
	}
	return decodeGatewayAckProto(payload)
}

// --- JSON sub-decoder -------------------------------------------------

type jsonLoRaModulation struct {
	SpreadingFactor *int    `json:"spreadingFactor"`
	Bandwidth       *int64  `json:"bandwidth"`
	CodeRate        *string `json:"codeRate"`
}

type jsonModulation struct {
	LoRa *jsonLoRaModulation `json:"lora"`
}

type jsonTxInfo struct {
	Frequency  *int64          `json:"frequency"`
	Modulation *jsonModulation `json:"modulation"`
}

type jsonLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type jsonRxInfo struct {
	GatewayID string            `json:"gatewayId"`
	RSSI      *int32            `json:"rssi"`
	SNR       *float64          `json:"snr"`
	Time      *time.Time        `json:"time"`
	Location  *jsonLocation     `json:"location"`
	Metadata  map[string]string `json:"metadata"`
}

type jsonUplinkEnvelope struct {
	PHYPayload []byte     `json:"phyPayload"`
	TxInfo     jsonTxInfo `json:"txInfo"`
	RxInfo     jsonRxInfo `json:"rxInfo"`
}

func decodeGatewayFrameJSON(payload []byte) (GatewayFrame, error) {
	var env jsonUplinkEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return GatewayFrame{}, fmt.Errorf("%w: json gateway frame: %v", ErrDecode, err)
	}

	frame := GatewayFrame{
		PHYPayload: env.PHYPayload,
		Frequency:  env.TxInfo.Frequency,
		GatewayID:  env.RxInfo.GatewayID,
		RSSI:       env.RxInfo.RSSI,
		SNR:        env.RxInfo.SNR,
		Timestamp:  env.RxInfo.Time,
	}
	if env.TxInfo.Modulation != nil && env.TxInfo.Modulation.LoRa != nil {
		frame.SF = env.TxInfo.Modulation.LoRa.SpreadingFactor
		frame.Bandwidth = env.TxInfo.Modulation.LoRa.Bandwidth
		frame.CodingRate = env.TxInfo.Modulation.LoRa.CodeRate
	}

	applyLocation(&frame, env.RxInfo.Location, env.RxInfo.Metadata)
	return frame, nil
}

type jsonAckEnvelope struct {
	DownlinkID int64  `json:"downlinkId"`
	Status     string `json:"status"`
}

func decodeGatewayAckJSON(payload []byte) (GatewayAck, error) {
	var env jsonAckEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return GatewayAck{}, fmt.Errorf("%w: json gateway ack: %v", ErrDecode, err)
	}
	return GatewayAck{DownlinkID: env.DownlinkID, Status: ackStatusNameFromJSON(env.Status)}, nil
}

// applyLocation extracts gateway location in priority order: the Location
// field on rx-info, then Helium-style metadata keys, else none. The relay_id
// metadata key is read whichever location source is used.
func applyLocation(frame *GatewayFrame, loc *jsonLocation, metadata map[string]string) {
	if v, ok := metadata["relay_id"]; ok {
		frame.RelayID = &v
	}
	if loc != nil && (loc.Latitude != nil || loc.Longitude != nil) {
		frame.Latitude = loc.Latitude
		frame.Longitude = loc.Longitude
		return
	}
	if metadata == nil {
		return
	}
	if v, ok := metadata["gateway_lat"]; ok {
		if f, err := parseFloat(v); err == nil {
			frame.Latitude = &f
		}
	}
	if v, ok := metadata["gateway_long"]; ok {
		if f, err := parseFloat(v); err == nil {
			frame.Longitude = &f
		}
	}
	if v, ok := metadata["gateway_name"]; ok {
		frame.GatewayName = &v
	}
}
