package mqtt

import (
	"fmt"
	"strings"
)

// StateTopic is where a device's poll results land as one JSON document.
func StateTopic(prefix, device string) string {
	return fmt.Sprintf("%s/%s/state", prefix, device)
}

// AvailabilityTopic carries the retained online/offline marker.
func AvailabilityTopic(prefix, device string) string {
	return fmt.Sprintf("%s/%s/availability", prefix, device)
}

// DiscoveryTopic is the Home Assistant discovery config topic for one
// sensor key.
func DiscoveryTopic(discoveryPrefix, device, key string) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", discoveryPrefix, device, key)
}

// Discovery is a Home Assistant MQTT discovery document.
type Discovery struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	ValueTemplate     string `json:"value_template"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	Icon              string `json:"icon,omitempty"`
}

// DiscoveryConfig builds the discovery document for a sensor key like
// "tire2_pressure" or "signal_strength". Units are the raw device units: the
// packets carry single unscaled bytes the vendor documents as PSI and °F.
func DiscoveryConfig(prefix, device, key string) (Discovery, error) {
	doc := Discovery{
		Name:              displayName(key),
		UniqueID:          fmt.Sprintf("%s_%s", device, key),
		StateTopic:        StateTopic(prefix, device),
		AvailabilityTopic: AvailabilityTopic(prefix, device),
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", key),
	}

	switch {
	case strings.HasSuffix(key, "_pressure"):
		doc.UnitOfMeasurement = "psi"
		doc.DeviceClass = "pressure"
		doc.Icon = "mdi:car-tire-alert"
	case strings.HasSuffix(key, "_temperature"):
		doc.UnitOfMeasurement = "°F"
		doc.DeviceClass = "temperature"
		doc.Icon = "mdi:thermometer-lines"
	case key == "signal_strength":
		doc.UnitOfMeasurement = "dBm"
		doc.DeviceClass = "signal_strength"
	default:
		return Discovery{}, fmt.Errorf("mqtt: no discovery metadata for key %q", key)
	}

	return doc, nil
}

// displayName renders a sensor key as the entity name shown in Home
// Assistant, e.g. "tire1_pressure" -> "Tire 1 Pressure".
func displayName(key string) string {
	var num int
	var measurement string
	if _, err := fmt.Sscanf(key, "tire%d_%s", &num, &measurement); err == nil {
		return fmt.Sprintf("Tire %d %s", num, titleWord(measurement))
	}
	words := strings.Split(key, "_")
	for i, word := range words {
		words[i] = titleWord(word)
	}
	return strings.Join(words, " ")
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// SensorKeys lists every key a device with the given tire positions can
// report, for discovery publication.
func SensorKeys(positions []int) []string {
	keys := make([]string, 0, 2*len(positions)+1)
	for _, pos := range positions {
		keys = append(keys, fmt.Sprintf("tire%d_pressure", pos))
		keys = append(keys, fmt.Sprintf("tire%d_temperature", pos))
	}
	return append(keys, "signal_strength")
}
