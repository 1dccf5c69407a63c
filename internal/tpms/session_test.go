package tpms

import (
	"reflect"
	"testing"
)

var (
	tire1ID = SensorID{0x0E, 0xB3, 0x0B, 0x02}
	tire2ID = SensorID{0x0E, 0x88, 0x46, 0x02}
)

func testMapping() PositionMapping {
	return PositionMapping{tire1ID: 1, tire2ID: 2}
}

func completed(s *Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func TestSessionAppliesMappedReading(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 4})

	s.HandleNotification(dataPacket(tire2ID, 40, 32))

	want := map[string]int{"tire2_pressure": 32, "tire2_temperature": 40}
	if got := s.Result(); !reflect.DeepEqual(got, want) {
		t.Errorf("Result() = %v, want %v", got, want)
	}
}

func TestSessionDropsMalformed(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 4})

	s.HandleNotification(nil)
	s.HandleNotification([]byte{0x00, 0x01})
	s.HandleNotification(append([]byte{0x01}, make([]byte, 9)...))
	s.HandleNotification(append([]byte{0x04}, make([]byte, 9)...))
	s.HandleNotification(append([]byte{0xAA}, make([]byte, 9)...))

	if got := s.Result(); len(got) != 0 {
		t.Errorf("Result() = %v, want empty", got)
	}
	if data, _ := s.Counts(); data != 0 {
		t.Errorf("data count = %d, want 0", data)
	}
}

func TestSessionDropsUnmappedSensor(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 4})

	unknown := SensorID{0xDE, 0xAD, 0xBE, 0xEF}
	if effect := s.Apply(mustDecode(t, dataPacket(unknown, 40, 32))); effect != EffectNone {
		t.Errorf("Apply effect = %v, want EffectNone", effect)
	}
	if got := s.Result(); len(got) != 0 {
		t.Errorf("Result() = %v, want empty", got)
	}
	// The packet still counts toward completion, matching the device's
	// fixed burst size.
	if data, _ := s.Counts(); data != 1 {
		t.Errorf("data count = %d, want 1", data)
	}
}

func TestSessionLearningRecordsDiscovery(t *testing.T) {
	s := NewSession(SessionConfig{Learning: true, ExpectedData: 4})

	unknown := SensorID{0xDE, 0xAD, 0xBE, 0xEF}
	if effect := s.Apply(mustDecode(t, dataPacket(unknown, 40, 32))); effect != EffectDiscovered {
		t.Errorf("Apply effect = %v, want EffectDiscovered", effect)
	}
	// Repeats are deduplicated.
	if effect := s.Apply(mustDecode(t, dataPacket(unknown, 41, 33))); effect != EffectNone {
		t.Errorf("repeat Apply effect = %v, want EffectNone", effect)
	}

	discovered := s.Discovered()
	if len(discovered) != 1 || discovered[0] != "DE-AD-BE-EF" {
		t.Errorf("Discovered() = %v, want [DE-AD-BE-EF]", discovered)
	}
	if got := s.Result(); len(got) != 0 {
		t.Errorf("Result() = %v, want empty in learning mode", got)
	}
}

func TestSessionLearningNeverCompletes(t *testing.T) {
	s := NewSession(SessionConfig{Learning: true, ExpectedData: 1})

	for i := 0; i < 10; i++ {
		s.HandleNotification(dataPacket(SensorID{0x01, 0x02, 0x03, byte(i)}, 40, 32))
	}
	if completed(s) {
		t.Error("learning session completed; it must run to the deadline")
	}
}

func TestSessionLearningCap(t *testing.T) {
	s := NewSession(SessionConfig{Learning: true, DiscoveryCap: 3})

	for i := 0; i < 50; i++ {
		s.HandleNotification(dataPacket(SensorID{0xFF, 0x00, 0x00, byte(i)}, 40, 32))
	}
	if got := len(s.Discovered()); got != 3 {
		t.Errorf("discovered %d identities, want cap of 3", got)
	}
}

func TestSessionOverwriteIsIdempotent(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 8})

	pkt := dataPacket(tire1ID, 40, 32)
	s.HandleNotification(pkt)
	once := s.Result()
	s.HandleNotification(pkt)
	if got := s.Result(); !reflect.DeepEqual(got, once) {
		t.Errorf("applying the same packet twice changed the result: %v vs %v", got, once)
	}
}

func TestSessionLastWriteWins(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 8})

	s.HandleNotification(dataPacket(tire1ID, 40, 32))
	s.HandleNotification(dataPacket(tire1ID, 45, 30))

	got := s.Result()
	if got["tire1_pressure"] != 30 || got["tire1_temperature"] != 45 {
		t.Errorf("Result() = %v, want the later reading", got)
	}
}

func TestSessionCompletionFiresOnce(t *testing.T) {
	s := NewSession(SessionConfig{
		Mapping: PositionMapping{
			{0, 0, 0, 1}: 1,
			{0, 0, 0, 2}: 2,
			{0, 0, 0, 3}: 3,
			{0, 0, 0, 4}: 4,
		},
		ExpectedData: 4,
	})

	for i := byte(1); i <= 3; i++ {
		s.HandleNotification(dataPacket(SensorID{0, 0, 0, i}, 40, 32))
		if completed(s) {
			t.Fatalf("completed after %d packets, want 4", i)
		}
	}
	s.HandleNotification(dataPacket(SensorID{0, 0, 0, 4}, 40, 32))
	if !completed(s) {
		t.Fatal("not completed after 4 data packets")
	}

	// A 5th packet after completion still updates the result but must not
	// re-fire the (closed) signal. close-of-closed would panic.
	s.HandleNotification(dataPacket(SensorID{0, 0, 0, 1}, 50, 35))
	if got := s.Result(); got["tire1_pressure"] != 35 {
		t.Errorf("post-completion packet not applied: %v", got)
	}
}

func TestSessionConfigPacketsNeverBlockCompletion(t *testing.T) {
	s := NewSession(SessionConfig{
		Mapping:        testMapping(),
		ExpectedData:   2,
		ExpectedConfig: 4,
	})

	// No config packets at all: data completeness alone suffices.
	s.HandleNotification(dataPacket(tire1ID, 40, 32))
	s.HandleNotification(dataPacket(tire2ID, 38, 30))
	if !completed(s) {
		t.Error("session waited on config packets; they are optional")
	}
}

func TestSessionConfigPacketsCountedNotStored(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 4})

	s.HandleNotification(configPacket(tire1ID, 20, 80, 158, 20))
	if got := s.Result(); len(got) != 0 {
		t.Errorf("config packet mutated result: %v", got)
	}
	data, cfg := s.Counts()
	if data != 0 || cfg != 1 {
		t.Errorf("counts = %d/%d, want 0 data / 1 config", data, cfg)
	}
}

func TestSessionSignalStrengthSeed(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 4})
	s.SeedSignalStrength(-67)
	if got := s.Result()["signal_strength"]; got != -67 {
		t.Errorf("signal_strength = %d, want -67", got)
	}
}

// End-to-end accumulation: two tires, two packets, completion on the second.
func TestSessionEndToEnd(t *testing.T) {
	s := NewSession(SessionConfig{Mapping: testMapping(), ExpectedData: 2})

	s.HandleNotification([]byte{0x00, 0x0E, 0xB3, 0x0B, 0x02, 0, 0, 40, 0, 32})
	if completed(s) {
		t.Fatal("completed after first packet")
	}
	s.HandleNotification([]byte{0x00, 0x0E, 0x88, 0x46, 0x02, 0, 0, 38, 0, 30})
	if !completed(s) {
		t.Fatal("not completed after second packet")
	}

	want := map[string]int{
		"tire1_temperature": 40,
		"tire1_pressure":    32,
		"tire2_temperature": 38,
		"tire2_pressure":    30,
	}
	if got := s.Result(); !reflect.DeepEqual(got, want) {
		t.Errorf("Result() = %v, want %v", got, want)
	}
}

func mustDecode(t *testing.T, raw []byte) Packet {
	t.Helper()
	pkt, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return pkt
}
