package decode

import (
	"encoding/json"
	"fmt"
	"time"
)

// AppUplink is the set of fields extracted from an application-bus uplink
// event.
type AppUplink struct {
	DevEUI          string
	DeviceName      string
	ApplicationID   string
	ApplicationName *string
	DevAddr         *string

	RSSI *int32
	SNR  *float64

	Frequency       *int64
	SpreadingFactor *int
	Bandwidth       *int64

	PayloadSize int

	FCnt      *uint32
	FPort     *uint32
	Confirmed *bool
	Time      *time.Time
}

// AppTxAck is emitted for application/{app}/device/{eui}/event/txack.
type AppTxAck struct {
	DevEUI string
	Status string
}

// AppAck is emitted for application/{app}/device/{eui}/event/ack.
type AppAck struct {
	DevEUI string
	Status string
}

// AppDownlink is emitted for application/{app}/device/{eui}/command/down.
type AppDownlink struct {
	DevEUI      string
	PayloadSize int
	FPort       *uint32
	Confirmed   *bool
}

type appDeviceInfo struct {
	DevEUI          string  `json:"devEui"`
	DeviceName      string  `json:"deviceName"`
	ApplicationID   string  `json:"applicationId"`
	ApplicationName *string `json:"applicationName"`
}

type appRxInfo struct {
	RSSI *int32   `json:"rssi"`
	SNR  *float64 `json:"snr"`
}

type appLoRaModulation struct {
	SpreadingFactor *int   `json:"spreadingFactor"`
	Bandwidth       *int64 `json:"bandwidth"`
}

type appModulation struct {
	LoRa *appLoRaModulation `json:"lora"`
}

type appTxInfo struct {
	Frequency  *int64         `json:"frequency"`
	Modulation *appModulation `json:"modulation"`
}

type appUplinkEnvelope struct {
	DeviceInfo appDeviceInfo `json:"deviceInfo"`
	DevAddr    *string       `json:"devAddr"`
	RxInfo     []appRxInfo   `json:"rxInfo"`
	TxInfo     appTxInfo     `json:"txInfo"`
	Data       []byte        `json:"data"`
	FCnt       *uint32       `json:"fCnt"`
	FPort      *uint32       `json:"fPort"`
	Confirmed  *bool         `json:"confirmed"`
	Time       *time.Time    `json:"time"`
}

// DecodeAppUplink decodes an application/{app}/device/{eui}/event/up message.
func DecodeAppUplink(payload []byte) (AppUplink, error) {
	var env appUplinkEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return AppUplink{}, fmt.Errorf("%w: app uplink: %v", ErrDecode, err)
	}

	out := AppUplink{
		DevEUI:          env.DeviceInfo.DevEUI,
		DeviceName:      env.DeviceInfo.DeviceName,
		ApplicationID:   env.DeviceInfo.ApplicationID,
		ApplicationName: env.DeviceInfo.ApplicationName,
		DevAddr:         env.DevAddr,
		Frequency:       env.TxInfo.Frequency,
		PayloadSize:     len(env.Data),
		FCnt:            env.FCnt,
		FPort:           env.FPort,
		Confirmed:       env.Confirmed,
		Time:            env.Time,
	}
	if len(env.RxInfo) > 0 {
		out.RSSI = env.RxInfo[0].RSSI
		out.SNR = env.RxInfo[0].SNR
	}
	if env.TxInfo.Modulation != nil && env.TxInfo.Modulation.LoRa != nil {
		out.SpreadingFactor = env.TxInfo.Modulation.LoRa.SpreadingFactor
		out.Bandwidth = env.TxInfo.Modulation.LoRa.Bandwidth
	}
	return out, nil
}

type appTxAckEnvelope struct {
	DeviceInfo appDeviceInfo `json:"deviceInfo"`
}

// DecodeAppTxAck decodes an application/{app}/device/{eui}/event/txack
// message. Status is always "OK"
func DecodeAppTxAck(payload []byte) (AppTxAck, error) {
	var env appTxAckEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return AppTxAck{}, fmt.Errorf("%w: app txack: %v", ErrDecode, err)
	}
	return AppTxAck{DevEUI: env.DeviceInfo.DevEUI, Status: "OK"}, nil
}

type appAckEnvelope struct {
	DeviceInfo   appDeviceInfo `json:"deviceInfo"`
	Acknowledged bool          `json:"acknowledged"`
}

// DecodeAppAck decodes an application/{app}/device/{eui}/event/ack message.
func DecodeAppAck(payload []byte) (AppAck, error) {
	var env appAckEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return AppAck{}, fmt.Errorf("%w: app ack: %v", ErrDecode, err)
	}
	status := "NACK"
	if env.Acknowledged {
		status = "ACK"
	}
	return AppAck{DevEUI: env.DeviceInfo.DevEUI, Status: status}, nil
}

type appDownlinkEnvelope struct {
	DeviceInfo appDeviceInfo `json:"deviceInfo"`
	Data       []byte        `json:"data"`
	FPort      *uint32       `json:"fPort"`
	Confirmed  *bool         `json:"confirmed"`
}

// DecodeAppDownlink decodes an application/{app}/device/{eui}/command/down
// message.
func DecodeAppDownlink(payload []byte) (AppDownlink, error) {
	var env appDownlinkEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return AppDownlink{}, fmt.Errorf("%w: app downlink: %v", ErrDecode, err)
	}
	return AppDownlink{
		DevEUI:      env.DeviceInfo.DevEUI,
		PayloadSize: len(env.Data),
		FPort:       env.FPort,
		Confirmed:   env.Confirmed,
	}, nil
}
