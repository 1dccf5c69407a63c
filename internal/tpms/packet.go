package tpms

import "errors"

// Vendor packet tags (byte 0 of every notification).
const (
	tagData   = 0x00 // per-tire temperature/pressure reading
	tagStatus = 0x01 // repeater status, carries no sensor payload
	tagConfig = 0x02 // per-tire alert thresholds
	tagAck    = 0x04 // command acknowledgement, no sensor payload
)

// Minimum payload lengths. Data packets read through byte 9, config packets
// through byte 13.
const (
	minDataLen   = 10
	minConfigLen = 14
)

// Decode reject reasons. Unknown tags are routine — the devices emit
// heartbeat and ack frames between readings — so callers treat these as
// "drop this packet", never as a session failure.
var (
	ErrTooShort     = errors.New("tpms: packet too short")
	ErrNonSensorTag = errors.New("tpms: non-sensor packet")
	ErrUnknownTag   = errors.New("tpms: unknown packet tag")
)

// PacketKind discriminates decoded packets.
type PacketKind int

const (
	KindData PacketKind = iota
	KindConfig
)

// Thresholds are the alert limits carried by a config packet. They are
// informational only; a poll never waits for them.
type Thresholds struct {
	MinPressure    uint8
	MaxPressure    uint8
	MaxTemperature uint8
	MaxTempChange  uint8
}

// Packet is one decoded sensor notification. Temperature and Pressure are
// raw device units (single bytes, no documented scale) and are valid only
// for KindData; Thresholds only for KindConfig.
type Packet struct {
	Kind        PacketKind
	Sensor      SensorID
	Temperature uint8
	Pressure    uint8
	Thresholds  Thresholds
}

// Decode classifies one raw notification payload. Identity resolution
// against a PositionMapping is deliberately a separate step so the decoder
// works unconfigured (learning mode).
func Decode(raw []byte) (Packet, error) {
	if len(raw) < minDataLen {
		return Packet{}, ErrTooShort
	}

	switch raw[0] {
	case tagStatus, tagAck:
		return Packet{}, ErrNonSensorTag

	case tagData:
		pkt := Packet{
			Kind:        KindData,
			Temperature: raw[7],
			Pressure:    raw[9],
		}
		copy(pkt.Sensor[:], raw[1:5])
		return pkt, nil

	case tagConfig:
		if len(raw) < minConfigLen {
			return Packet{}, ErrTooShort
		}
		pkt := Packet{
			Kind: KindConfig,
			Thresholds: Thresholds{
				MinPressure:    raw[7],
				MaxPressure:    raw[9],
				MaxTemperature: raw[11],
				MaxTempChange:  raw[13],
			},
		}
		copy(pkt.Sensor[:], raw[1:5])
		return pkt, nil

	default:
		return Packet{}, ErrUnknownTag
	}
}
