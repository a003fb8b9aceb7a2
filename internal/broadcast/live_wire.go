package broadcast

import (
	"fmt"

	"github.com/lorawatch/lorawan-analyzer/internal/model"
)

// liveWirePacket is the subscriber-bound JSON shape for every event the
// broadcaster fans out: gateway-origin packets, application-bus uplinks, and
// application-bus control events all render through it.
type liveWirePacket struct {
	TimestampMS     int64    `json:"timestamp"`
	GatewayID       string   `json:"gateway_id,omitempty"`
	GatewayName     *string  `json:"gateway_name,omitempty"`
	BorderGatewayID *string  `json:"border_gateway_id,omitempty"`
	Type            string   `json:"type"`
	DevAddr         *string  `json:"dev_addr,omitempty"`
	DevEUI          *string  `json:"dev_eui,omitempty"`
	JoinEUI         *string  `json:"join_eui,omitempty"`
	Operator        string   `json:"operator,omitempty"`
	DataRate        *string  `json:"data_rate,omitempty"`
	Frequency       *float64 `json:"frequency,omitempty"`
	SNR             *float64 `json:"snr,omitempty"`
	RSSI            *int32   `json:"rssi,omitempty"`
	PayloadSize     int      `json:"payload_size"`
	AirtimeMS       float64  `json:"airtime_ms"`
	FCnt            *uint32  `json:"f_cnt,omitempty"`
	FPort           *uint32  `json:"f_port,omitempty"`
	Confirmed       *bool    `json:"confirmed,omitempty"`
	TxStatus        *string  `json:"tx_status,omitempty"`
	Source          string   `json:"source,omitempty"`
	DeviceName      string   `json:"device_name,omitempty"`
	ApplicationID   string   `json:"application_id,omitempty"`
	ApplicationName *string  `json:"application_name,omitempty"`
}

// dataRate composes the "SF{sf}BW{bw_khz}" label from the raw radio
// parameters, or nil when either is unknown.
func dataRate(sf *int, bandwidthHz *int64) *string {
	if sf == nil || bandwidthHz == nil {
		return nil
	}
	s := fmt.Sprintf("SF%dBW%d", *sf, *bandwidthHz/1000)
	return &s
}

// frequencyMHz converts the stored Hz frequency to the MHz value the wire
// format carries, or nil when unknown.
func frequencyMHz(hz *int64) *float64 {
	if hz == nil {
		return nil
	}
	mhz := float64(*hz) / 1e6
	return &mhz
}

// buildLiveWireFromParsedPacket renders a gateway-origin packet. gw supplies
// the gateway's display name; crossDevEUI/crossDevice are the cs-device
// cache lookup results used when a gateway downlink's dev_addr is known to
// map to an application-bus device (the cross-stream case), leaving both
// zero-valued when no such mapping exists.
func buildLiveWireFromParsedPacket(pkt model.ParsedPacket, gw gatewayMeta, crossDevEUI string, crossDevice csDeviceMeta) liveWirePacket {
	w := liveWirePacket{
		TimestampMS:     pkt.Timestamp.UnixMilli(),
		GatewayID:       pkt.GatewayID,
		GatewayName:     gw.name,
		BorderGatewayID: pkt.BorderGatewayID,
		Type:            string(pkt.PacketType),
		DevAddr:         pkt.DevAddr,
		DevEUI:          pkt.DevEUI,
		JoinEUI:         pkt.JoinEUI,
		Operator:        pkt.Operator,
		DataRate:        dataRate(pkt.SpreadingFactor, pkt.Bandwidth),
		Frequency:       frequencyMHz(pkt.Frequency),
		SNR:             pkt.SNR,
		RSSI:            pkt.RSSI,
		PayloadSize:     pkt.PayloadSize,
		AirtimeMS:       float64(pkt.AirtimeUS) / 1000,
		FCnt:            pkt.FCnt,
		FPort:           pkt.FPort,
		Confirmed:       pkt.Confirmed,
	}

	if pkt.PacketType == model.PacketTypeTxAck {
		status := pkt.Operator
		w.TxStatus = &status
	}

	if w.DevEUI == nil && crossDevEUI != "" {
		devEUI := crossDevEUI
		w.DevEUI = &devEUI
		w.Source = "chirpstack"
		w.DeviceName = crossDevice.deviceName
		w.ApplicationName = crossDevice.applicationName
	}

	return w
}

// buildLiveWireFromCsPacket renders an application-bus uplink.
func buildLiveWireFromCsPacket(pkt model.CsPacket) liveWirePacket {
	devEUI := pkt.DevEUI
	return liveWirePacket{
		TimestampMS:   pkt.Timestamp.UnixMilli(),
		Type:          string(model.PacketTypeData),
		DevAddr:       pkt.DevAddr,
		DevEUI:        &devEUI,
		Operator:      pkt.Operator,
		DataRate:      dataRate(pkt.SpreadingFactor, pkt.Bandwidth),
		Frequency:     frequencyMHz(pkt.Frequency),
		SNR:           pkt.SNR,
		RSSI:          pkt.RSSI,
		PayloadSize:   pkt.PayloadSize,
		AirtimeMS:     float64(pkt.AirtimeUS) / 1000,
		FCnt:          pkt.FCnt,
		FPort:         pkt.FPort,
		Confirmed:     pkt.Confirmed,
		Source:        "chirpstack",
		DeviceName:    pkt.DeviceName,
		ApplicationID: pkt.ApplicationID,
	}
}

// buildLiveWireFromCsEvent renders an application-bus control event
// (tx-ack/ack/downlink). device is the cs-device cache lookup result for
// evt.DevEUI, used to fill device_name.
func buildLiveWireFromCsEvent(evt model.CsEvent, device csDeviceMeta) liveWirePacket {
	devEUI := evt.DevEUI
	w := liveWirePacket{
		TimestampMS: evt.Timestamp.UnixMilli(),
		Type:        string(evt.Type),
		DevEUI:      &devEUI,
		PayloadSize: evt.PayloadSize,
		FPort:       evt.FPort,
		Confirmed:   evt.Confirmed,
		Source:      "chirpstack",
		DeviceName:  device.deviceName,
	}
	if evt.Status != "" {
		status := evt.Status
		w.TxStatus = &status
	}
	return w
}
