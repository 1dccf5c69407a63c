// Package tpms implements the notification aggregation protocol spoken by
// TireLinc TPMS repeaters and Medisana blood-pressure monitors. A poll opens
// a transient GATT connection, subscribes to the device's notify
// characteristic, and accumulates readings out of an unordered, possibly
// incomplete stream of vendor packets until enough data has arrived or a
// deadline expires.
package tpms

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SensorID is the opaque 4-byte identifier a physical tire sensor reports in
// every packet. It is compared byte-wise and never interpreted numerically.
type SensorID [4]byte

// ParseSensorID parses the hyphenated hex form used in configuration,
// e.g. "0E-B3-0B-02". Bare hex without hyphens is accepted too.
func ParseSensorID(s string) (SensorID, error) {
	var id SensorID
	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		return id, fmt.Errorf("tpms: sensor id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("tpms: sensor id %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String renders the id as hyphen-separated uppercase hex ("0E-B3-0B-02"),
// the same form discovered sensors are reported in.
func (id SensorID) String() string {
	parts := make([]string, len(id))
	for i, b := range id {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, "-")
}

// PositionMapping associates sensor identities with logical tire positions
// (1..N). It is built from configuration at session start and read-only for
// the duration of a poll.
type PositionMapping map[SensorID]int

// BuildPositionMapping converts a config-level position→id table (keys like
// "tire_1") into a PositionMapping. Entries with malformed positions or ids
// are rejected; duplicate sensor ids across positions are an error since a
// reading could otherwise land on two tires.
func BuildPositionMapping(table map[string]string) (PositionMapping, error) {
	mapping := make(PositionMapping, len(table))
	for position, idStr := range table {
		num, err := parsePosition(position)
		if err != nil {
			return nil, err
		}
		id, err := ParseSensorID(idStr)
		if err != nil {
			return nil, err
		}
		if prev, ok := mapping[id]; ok {
			return nil, fmt.Errorf("tpms: sensor %s mapped to both tire_%d and tire_%d", id, prev, num)
		}
		mapping[id] = num
	}
	return mapping, nil
}

func parsePosition(position string) (int, error) {
	var num int
	_, err := fmt.Sscanf(position, "tire_%d", &num)
	// Sscanf stops at the number, so round-trip to reject trailing junk
	// like "tire_2x".
	if err != nil || num < 1 || fmt.Sprintf("tire_%d", num) != position {
		return 0, fmt.Errorf("tpms: invalid position %q (want tire_<n>)", position)
	}
	return num, nil
}
