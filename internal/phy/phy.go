// Package phy decodes raw LoRaWAN PHYPayload bytes into the typed fields the
// pipeline needs, without pulling in a full MAC-layer implementation.
package phy

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MType is the LoRaWAN message type carried in the top 3 bits of MHDR.
type MType byte

const (
	MTypeJoinRequest         MType = 0x00
	MTypeJoinAccept          MType = 0x01
	MTypeUnconfirmedDataUp   MType = 0x02
	MTypeUnconfirmedDataDown MType = 0x03
	MTypeConfirmedDataUp     MType = 0x04
	MTypeConfirmedDataDown   MType = 0x05
	MTypeRejoinRequest       MType = 0x06
	MTypeProprietary         MType = 0x07
)

// ErrMalformedPhy is returned when the buffer is shorter than the message
// type requires. Callers drop the event silently
var ErrMalformedPhy = errors.New("phy: malformed PHYPayload")

// Frame holds the fields extracted from a PHYPayload.
type Frame struct {
	MType     MType
	DevAddr   string // uppercase hex, 4 bytes; empty unless a data frame
	FCnt      uint16
	FPort     *uint32
	JoinEUI   string // uppercase hex, 8 bytes; empty unless Join Request
	DevEUI    string // uppercase hex, 8 bytes; empty unless Join Request
	Confirmed *bool
}

const (
	minMHDRLen        = 1
	minJoinRequestLen = 1 + 8 + 8 + 2 // MHDR + AppEUI/JoinEUI + DevEUI + DevNonce
	minDataHeaderLen  = 1 + 4 + 1 + 2 // MHDR + DevAddr + FCtrl + FCnt
)

// Parse decodes a PHYPayload buffer into a Frame.
func Parse(b []byte) (Frame, error) {
	if len(b) < minMHDRLen {
		return Frame{}, ErrMalformedPhy
	}

	mhdr := b[0]
	mtype := MType(mhdr >> 5)

	switch mtype {
	case MTypeJoinRequest:
		return parseJoinRequest(b, mtype)
	case MTypeUnconfirmedDataUp, MTypeUnconfirmedDataDown,
		MTypeConfirmedDataUp, MTypeConfirmedDataDown:
		return parseDataFrame(b, mtype)
	case MTypeJoinAccept, MTypeRejoinRequest, MTypeProprietary:
		return Frame{MType: mtype}, nil
	default:
		return Frame{}, fmt.Errorf("phy: unknown mtype %d: %w", mtype, ErrMalformedPhy)
	}
}

func parseJoinRequest(b []byte, mtype MType) (Frame, error) {
	if len(b) < minJoinRequestLen {
		return Frame{}, ErrMalformedPhy
	}

	joinEUI := reverseHex(b[1:9])
	devEUI := reverseHex(b[9:17])

	return Frame{
		MType:   mtype,
		JoinEUI: joinEUI,
		DevEUI:  devEUI,
	}, nil
}

func parseDataFrame(b []byte, mtype MType) (Frame, error) {
	if len(b) < minDataHeaderLen {
		return Frame{}, ErrMalformedPhy
	}

	devAddr := reverseHex(b[1:5])
	fctrl := b[5]
	fCnt := binary.LittleEndian.Uint16(b[6:8])
	foptsLen := int(fctrl & 0x0F)

	offset := 8 + foptsLen
	if offset > len(b) {
		return Frame{}, ErrMalformedPhy
	}

	var fPort *uint32
	if offset < len(b) {
		p := uint32(b[offset])
		fPort = &p
	}

	confirmed := mtype == MTypeConfirmedDataUp || mtype == MTypeConfirmedDataDown

	return Frame{
		MType:     mtype,
		DevAddr:   devAddr,
		FCnt:      fCnt,
		FPort:     fPort,
		Confirmed: &confirmed,
	}, nil
}

// reverseHex renders little-endian bytes as big-endian uppercase hex, matching
// the wire order LoRaWAN uses for DevAddr/EUIs.
func reverseHex(b []byte) string {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return strings.ToUpper(hex.EncodeToString(rev))
}
