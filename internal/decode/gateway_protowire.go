package decode

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// This file reads the gateway-bridge uplink/downlink/ack envelopes directly
// off the wire using protowire primitives, without a generated .pb.go schema.
// Field numbers below mirror the ChirpStack gw.proto
// UplinkFrame/UplinkTXInfo/UplinkRXInfo layout; anything not enumerated here
// is skipped by wire type.
const (
	fieldUplinkPHYPayload = 1
	fieldUplinkTxInfo     = 2
	fieldUplinkRxInfo     = 3

	fieldTxInfoFrequency  = 1
	fieldTxInfoModulation = 2

	fieldModulationLoRa = 1

	fieldLoRaBandwidth       = 1
	fieldLoRaSpreadingFactor = 2
	fieldLoRaCodeRate        = 3

	fieldRxInfoGatewayID = 1
	fieldRxInfoTime      = 2
	fieldRxInfoRSSI      = 5
	fieldRxInfoSNR       = 6
	fieldRxInfoLocation  = 9
	fieldRxInfoMetadata  = 12

	fieldLocationLatitude  = 1
	fieldLocationLongitude = 2

	fieldMapKey   = 1
	fieldMapValue = 2

	fieldAckDownlinkID = 1
	fieldAckStatus     = 2
)

func decodeGatewayFrameProto(b []byte) (GatewayFrame, error) {
	var frame GatewayFrame
	var metadata map[string]string
	var loc *jsonLocation

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return GatewayFrame{}, fmt.Errorf("%w: bad tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldUplinkPHYPayload && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return GatewayFrame{}, fmt.Errorf("%w: phy_payload: %v", ErrDecode, protowire.ParseError(nn))
			}
			frame.PHYPayload = append([]byte(nil), v...)
			b = b[nn:]

		case num == fieldUplinkTxInfo && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return GatewayFrame{}, fmt.Errorf("%w: tx_info: %v", ErrDecode, protowire.ParseError(nn))
			}
			if err := decodeTxInfo(v, &frame); err != nil {
				return GatewayFrame{}, err
			}
			b = b[nn:]

		case num == fieldUplinkRxInfo && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return GatewayFrame{}, fmt.Errorf("%w: rx_info: %v", ErrDecode, protowire.ParseError(nn))
			}
			if err := decodeRxInfo(v, &frame, &metadata, &loc); err != nil {
				return GatewayFrame{}, err
			}
			b = b[nn:]

		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return GatewayFrame{}, fmt.Errorf("%w: skip unknown field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}

	applyLocation(&frame, loc, metadata)
	return frame, nil
}

func decodeTxInfo(b []byte, frame *GatewayFrame) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tx_info tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTxInfoFrequency && typ == protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return fmt.Errorf("%w: frequency: %v", ErrDecode, protowire.ParseError(nn))
			}
			freq := int64(v)
			frame.Frequency = &freq
			b = b[nn:]

		case num == fieldTxInfoModulation && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("%w: modulation: %v", ErrDecode, protowire.ParseError(nn))
			}
			if err := decodeModulation(v, frame); err != nil {
				return err
			}
			b = b[nn:]

		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return fmt.Errorf("%w: skip tx_info field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return nil
}

func decodeModulation(b []byte, frame *GatewayFrame) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: modulation tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldModulationLoRa && typ == protowire.BytesType {
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("%w: lora modulation: %v", ErrDecode, protowire.ParseError(nn))
			}
			if err := decodeLoRaModulation(v, frame); err != nil {
				return err
			}
			b = b[nn:]
			continue
		}

		nn := protowire.ConsumeFieldValue(num, typ, b)
		if nn < 0 {
			return fmt.Errorf("%w: skip modulation field %d: %v", ErrDecode, num, protowire.ParseError(nn))
		}
		b = b[nn:]
	}
	return nil
}

func decodeLoRaModulation(b []byte, frame *GatewayFrame) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: lora tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldLoRaBandwidth && typ == protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return fmt.Errorf("%w: bandwidth: %v", ErrDecode, protowire.ParseError(nn))
			}
			bw := int64(v)
			frame.Bandwidth = &bw
			b = b[nn:]

		case num == fieldLoRaSpreadingFactor && typ == protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return fmt.Errorf("%w: spreading_factor: %v", ErrDecode, protowire.ParseError(nn))
			}
			sf := int(v)
			frame.SF = &sf
			b = b[nn:]

		case num == fieldLoRaCodeRate && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("%w: code_rate: %v", ErrDecode, protowire.ParseError(nn))
			}
			cr := string(v)
			frame.CodingRate = &cr
			b = b[nn:]

		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return fmt.Errorf("%w: skip lora field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return nil
}

func decodeRxInfo(b []byte, frame *GatewayFrame, metadata *map[string]string, loc **jsonLocation) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: rx_info tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldRxInfoGatewayID && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("%w: gateway_id: %v", ErrDecode, protowire.ParseError(nn))
			}
			frame.GatewayID = string(v)
			b = b[nn:]

		case num == fieldRxInfoTime && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("%w: rx time: %v", ErrDecode, protowire.ParseError(nn))
			}
			if ts, err := decodeTimestamp(v); err == nil {
				frame.Timestamp = &ts
			}
			b = b[nn:]

		case num == fieldRxInfoRSSI && typ == protowire.VarintType:
			// rssi must accept a 10-byte signed-int varint encoding and
			// truncate to signed 32-bit.
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return fmt.Errorf("%w: rssi: %v", ErrDecode, protowire.ParseError(nn))
			}
			rssi := int32(int64(v))
			frame.RSSI = &rssi
			b = b[nn:]

		case num == fieldRxInfoSNR && typ == protowire.Fixed32Type:
			v, nn := protowire.ConsumeFixed32(b)
			if nn < 0 {
				return fmt.Errorf("%w: snr: %v", ErrDecode, protowire.ParseError(nn))
			}
			snr := float64(float32FromBits(v))
			frame.SNR = &snr
			b = b[nn:]

		case num == fieldRxInfoLocation && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("%w: location: %v", ErrDecode, protowire.ParseError(nn))
			}
			l, err := decodeLocation(v)
			if err != nil {
				return err
			}
			*loc = &l
			b = b[nn:]

		case num == fieldRxInfoMetadata && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("%w: metadata entry: %v", ErrDecode, protowire.ParseError(nn))
			}
			k, val, err := decodeMapEntry(v)
			if err != nil {
				return err
			}
			if *metadata == nil {
				*metadata = map[string]string{}
			}
			(*metadata)[k] = val
			b = b[nn:]

		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return fmt.Errorf("%w: skip rx_info field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return nil
}

func decodeLocation(b []byte) (jsonLocation, error) {
	var loc jsonLocation
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return loc, fmt.Errorf("%w: location tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldLocationLatitude && typ == protowire.Fixed64Type:
			v, nn := protowire.ConsumeFixed64(b)
			if nn < 0 {
				return loc, fmt.Errorf("%w: latitude: %v", ErrDecode, protowire.ParseError(nn))
			}
			lat := float64FromBits(v)
			loc.Latitude = &lat
			b = b[nn:]

		case num == fieldLocationLongitude && typ == protowire.Fixed64Type:
			v, nn := protowire.ConsumeFixed64(b)
			if nn < 0 {
				return loc, fmt.Errorf("%w: longitude: %v", ErrDecode, protowire.ParseError(nn))
			}
			lon := float64FromBits(v)
			loc.Longitude = &lon
			b = b[nn:]

		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return loc, fmt.Errorf("%w: skip location field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return loc, nil
}

func decodeMapEntry(b []byte) (string, string, error) {
	var key, val string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("%w: map entry tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldMapKey && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return "", "", fmt.Errorf("%w: map key: %v", ErrDecode, protowire.ParseError(nn))
			}
			key = string(v)
			b = b[nn:]

		case num == fieldMapValue && typ == protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return "", "", fmt.Errorf("%w: map value: %v", ErrDecode, protowire.ParseError(nn))
			}
			val = string(v)
			b = b[nn:]

		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return "", "", fmt.Errorf("%w: skip map entry field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return key, val, nil
}

// decodeTimestamp reads a well-known google.protobuf.Timestamp message
// (seconds=field 1 varint, nanos=field 2 varint).
func decodeTimestamp(b []byte) (time.Time, error) {
	var seconds int64
	var nanos int64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return time.Time{}, fmt.Errorf("%w: timestamp tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return time.Time{}, fmt.Errorf("%w: timestamp seconds: %v", ErrDecode, protowire.ParseError(nn))
			}
			seconds = int64(v)
			b = b[nn:]
		case num == 2 && typ == protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return time.Time{}, fmt.Errorf("%w: timestamp nanos: %v", ErrDecode, protowire.ParseError(nn))
			}
			nanos = int64(v)
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return time.Time{}, fmt.Errorf("%w: skip timestamp field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return time.Unix(seconds, nanos).UTC(), nil
}

func decodeGatewayAckProto(b []byte) (GatewayAck, error) {
	var ack GatewayAck
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return GatewayAck{}, fmt.Errorf("%w: ack tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldAckDownlinkID && typ == protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return GatewayAck{}, fmt.Errorf("%w: downlink_id: %v", ErrDecode, protowire.ParseError(nn))
			}
			ack.DownlinkID = int64(v)
			b = b[nn:]

		case num == fieldAckStatus && typ == protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			if nn < 0 {
				return GatewayAck{}, fmt.Errorf("%w: status: %v", ErrDecode, protowire.ParseError(nn))
			}
			ack.Status = AckStatusName(int(v))
			b = b[nn:]

		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return GatewayAck{}, fmt.Errorf("%w: skip ack field %d: %v", ErrDecode, num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return ack, nil
}

func float32FromBits(v uint32) float32 {
	return math.Float32frombits(v)
}

func float64FromBits(v uint64) float64 {
	return math.Float64frombits(v)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
