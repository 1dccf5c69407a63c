package tpms

import (
	"fmt"
	"time"
)

// Profile captures how one device family speaks the protocol. The two
// supported families share the packet format but differ in trigger behavior,
// deadlines, and how a failed subscribe is treated.
type Profile struct {
	Family string

	ServiceUUID    string
	NotifyCharUUID string
	// WriteCharUUID is empty for families that push notifications
	// spontaneously after connect.
	WriteCharUUID string

	// TriggerCommand is written (unacknowledged) to WriteCharUUID to request
	// a data burst. TriggerDelay is waited after subscribing and before the
	// write; some BLE stacks race the two otherwise.
	TriggerCommand []byte
	TriggerDelay   time.Duration

	// SubscribeFatal aborts the session when enabling notifications fails.
	// When false the session fails open: it returns whatever was seeded.
	SubscribeFatal bool

	// Deadline bounds the wait for notifications once subscribed.
	Deadline time.Duration

	ExpectedData   int
	ExpectedConfig int
}

// ProfileTireLinc is the TireLinc TPMS repeater: readings must be requested
// with a trigger write, and one packet per configured tire is expected.
var ProfileTireLinc = Profile{
	Family:         "tirelinc",
	ServiceUUID:    "00000000-00b7-4807-beee-e0b0879cf3dd",
	NotifyCharUUID: "00000002-00b7-4807-beee-e0b0879cf3dd",
	WriteCharUUID:  "00000001-00b7-4807-beee-e0b0879cf3dd",
	TriggerCommand: []byte{0x01},
	TriggerDelay:   500 * time.Millisecond,
	SubscribeFatal: false,
	Deadline:       5 * time.Second,
	ExpectedData:   4,
	ExpectedConfig: 4,
}

// ProfileMedisanaBP is the Medisana blood-pressure monitor: it pushes a
// single stored measurement after connect, and a failed subscribe means no
// data can ever arrive, so the session aborts.
var ProfileMedisanaBP = Profile{
	Family:         "medisanabp",
	ServiceUUID:    "00001810-0000-1000-8000-00805f9b34fb",
	NotifyCharUUID: "00002a35-0000-1000-8000-00805f9b34fb",
	SubscribeFatal: true,
	Deadline:       15 * time.Second,
	ExpectedData:   1,
	ExpectedConfig: 0,
}

// ProfileForFamily returns the profile for a config-level family name.
func ProfileForFamily(family string) (Profile, error) {
	switch family {
	case ProfileTireLinc.Family:
		return ProfileTireLinc, nil
	case ProfileMedisanaBP.Family:
		return ProfileMedisanaBP, nil
	default:
		return Profile{}, fmt.Errorf("tpms: unknown device family %q", family)
	}
}

// HasTrigger reports whether the family requires a trigger write to start a
// data burst.
func (p Profile) HasTrigger() bool {
	return p.WriteCharUUID != "" && len(p.TriggerCommand) > 0
}
