package tpms

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefaultDiscoveryCap bounds the discovered-identity set in learning mode.
// Noisy environments (neighbouring rigs, repeaters in range) can otherwise
// grow it without limit.
const DefaultDiscoveryCap = 16

// SessionConfig parameterizes one poll session.
type SessionConfig struct {
	Mapping        PositionMapping
	ExpectedData   int // data packets required for completion
	ExpectedConfig int // config packets tracked for diagnostics
	Learning       bool
	DiscoveryCap   int // 0 means DefaultDiscoveryCap
	Logger         *slog.Logger
}

// Session is the transient state of one poll: the result map, packet
// counters, and a one-shot completion signal. It is created fresh per poll
// and discarded afterwards — nothing survives across polls.
//
// HandleNotification is invoked from the BLE notification callback and must
// not block; everything it does is a map update over small fixed buffers.
type Session struct {
	cfg SessionConfig
	log *slog.Logger

	mu          sync.Mutex
	result      map[string]int
	dataCount   int
	configCount int
	discovered  map[string]struct{}
	completed   bool
	done        chan struct{}
}

// NewSession creates the state for a single poll.
func NewSession(cfg SessionConfig) *Session {
	if cfg.DiscoveryCap <= 0 {
		cfg.DiscoveryCap = DefaultDiscoveryCap
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:        cfg,
		log:        log,
		result:     make(map[string]int),
		discovered: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// Done is closed exactly once, when enough data has accumulated. In learning
// mode it never closes; the session runs to its full deadline so the
// discovered set can keep growing.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SeedSignalStrength records the advertisement RSSI, available even when the
// connection attempt later fails.
func (s *Session) SeedSignalStrength(rssi int) {
	s.mu.Lock()
	s.result["signal_strength"] = rssi
	s.mu.Unlock()
}

// HandleNotification decodes one raw notification, folds it into the session
// state, and checks the completion policy. Malformed and unknown packets are
// dropped; they never abort the session.
func (s *Session) HandleNotification(raw []byte) {
	pkt, err := Decode(raw)
	if err != nil {
		s.log.Debug("dropping notification", "len", len(raw), "reason", err)
		return
	}
	s.Apply(pkt)
}

// Effect reports what Apply did, for logging and tests.
type Effect int

const (
	EffectNone       Effect = iota // packet counted but result unchanged
	EffectUpdated                  // reading written into the result
	EffectDiscovered               // new identity recorded in learning mode
)

// Apply folds one decoded packet into the session state and fires the
// completion signal if the policy is now satisfied. Later packets for the
// same position overwrite earlier ones — a sensor may report twice in one
// session and the freshest reading wins.
func (s *Session) Apply(pkt Packet) Effect {
	s.mu.Lock()
	defer s.mu.Unlock()

	effect := EffectNone
	switch pkt.Kind {
	case KindData:
		s.dataCount++
		effect = s.applyData(pkt)
	case KindConfig:
		// Thresholds are informational; track arrival only.
		s.configCount++
		s.log.Debug("config packet", "sensor", pkt.Sensor,
			"count", s.configCount, "expected", s.cfg.ExpectedConfig)
	}

	s.checkCompletion()
	return effect
}

// applyData handles a data packet. Caller holds s.mu.
func (s *Session) applyData(pkt Packet) Effect {
	if s.cfg.Learning {
		key := pkt.Sensor.String()
		if _, ok := s.discovered[key]; ok {
			return EffectNone
		}
		if len(s.discovered) >= s.cfg.DiscoveryCap {
			s.log.Warn("discovery cap reached, ignoring sensor", "sensor", key)
			return EffectNone
		}
		s.discovered[key] = struct{}{}
		s.log.Info("discovered sensor", "sensor", key)
		return EffectDiscovered
	}

	position, ok := s.cfg.Mapping[pkt.Sensor]
	if !ok {
		s.log.Debug("reading from unconfigured sensor", "sensor", pkt.Sensor,
			"pressure", pkt.Pressure, "temperature", pkt.Temperature)
		return EffectNone
	}

	s.result[fmt.Sprintf("tire%d_pressure", position)] = int(pkt.Pressure)
	s.result[fmt.Sprintf("tire%d_temperature", position)] = int(pkt.Temperature)
	s.log.Debug("updated tire reading", "position", position,
		"pressure", pkt.Pressure, "temperature", pkt.Temperature)
	return EffectUpdated
}

// checkCompletion fires the done signal once the fixed-count policy is met.
// Data completeness alone is sufficient; config packets are not guaranteed
// to be emitted every session and must never block completion. Caller holds
// s.mu.
func (s *Session) checkCompletion() {
	if s.completed || s.cfg.Learning {
		return
	}
	if s.cfg.ExpectedData > 0 && s.dataCount >= s.cfg.ExpectedData {
		s.completed = true
		close(s.done)
		s.log.Debug("session complete",
			"data_packets", s.dataCount, "config_packets", s.configCount)
	}
}

// Result returns a copy of the accumulated readings. Safe to call at any
// point; a timed-out session simply yields whatever arrived.
func (s *Session) Result() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.result))
	for k, v := range s.result {
		out[k] = v
	}
	return out
}

// Discovered returns the identities recorded during a learning session, in
// hyphenated uppercase hex form.
func (s *Session) Discovered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.discovered))
	for id := range s.discovered {
		out = append(out, id)
	}
	return out
}

// Counts returns the data and config packet counters, for diagnostics.
func (s *Session) Counts() (data, config int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataCount, s.configCount
}
