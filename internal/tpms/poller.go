package tpms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rvlink/tpms-gateway/internal/ble"
)

// ErrUnreachable marks a poll that could not connect at all. The result
// returned alongside it still carries anything seeded out-of-band (RSSI), so
// callers can keep last-good state and flag the device unavailable.
var ErrUnreachable = errors.New("tpms: device unreachable")

// connectTimeout bounds the connection attempt itself, separate from the
// notification deadline.
const connectTimeout = 10 * time.Second

// Target identifies one device for a poll.
type Target struct {
	Address string
	// RSSI from the last advertisement, 0 if unknown.
	RSSI int

	Mapping      PositionMapping
	Learning     bool
	DiscoveryCap int

	// ExpectedData overrides the profile's count when > 0 (fewer tires
	// configured than the family default, for example).
	ExpectedData int
}

// Result is the outcome of one poll: a flat sensor-key→value map plus any
// identities discovered in learning mode. A Result is always produced, even
// on timeout — partial tire data is still actionable.
type Result struct {
	Values     map[string]int
	Discovered []string
}

// Poller drives one end-to-end poll cycle against a device family. It owns
// the connection for the session's duration and releases it on every exit
// path. Polls for the same device must not overlap; the caller's scheduling
// loop guarantees that.
type Poller struct {
	adapter ble.Adapter
	profile Profile
	log     *slog.Logger
}

// NewPoller creates a poller for the given family profile.
func NewPoller(adapter ble.Adapter, profile Profile, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{adapter: adapter, profile: profile, log: log}
}

// Poll runs one poll cycle: connect, subscribe, optionally trigger, wait for
// completion or deadline, then tear down. Transport errors after the connect
// stage are logged and swallowed — the contract is total, a Result always
// comes back. Only a failed connect is reported, as ErrUnreachable.
func (p *Poller) Poll(ctx context.Context, target Target) (Result, error) {
	expected := p.profile.ExpectedData
	if target.ExpectedData > 0 {
		expected = target.ExpectedData
	}
	session := NewSession(SessionConfig{
		Mapping:        target.Mapping,
		ExpectedData:   expected,
		ExpectedConfig: p.profile.ExpectedConfig,
		Learning:       target.Learning,
		DiscoveryCap:   target.DiscoveryCap,
		Logger:         p.log,
	})
	if target.RSSI != 0 {
		session.SeedSignalStrength(target.RSSI)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	conn, err := p.adapter.Connect(connectCtx, target.Address)
	if err != nil {
		p.log.Warn("connect failed", "address", target.Address, "error", err)
		return p.finish(session), fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			p.log.Warn("disconnect failed", "address", target.Address, "error", err)
		}
	}()

	notify, deadline := p.subscribe(conn, session)
	if notify == nil && p.profile.SubscribeFatal {
		return p.finish(session), nil
	}

	if notify != nil && p.profile.HasTrigger() {
		p.trigger(ctx, conn)
	}

	p.wait(ctx, session, deadline)

	if notify != nil {
		if err := notify.Unsubscribe(); err != nil {
			p.log.Debug("unsubscribe failed", "address", target.Address, "error", err)
		}
	}

	return p.finish(session), nil
}

// subscribe hooks the session into the notify characteristic. On failure the
// family profile decides: fatal families abort, the rest fail open with a
// zero deadline so the poll returns whatever was seeded.
func (p *Poller) subscribe(conn ble.Connection, session *Session) (ble.Characteristic, time.Duration) {
	notify, err := conn.DiscoverCharacteristic(p.profile.ServiceUUID, p.profile.NotifyCharUUID)
	if err == nil {
		err = notify.Subscribe(session.HandleNotification)
	}
	if err != nil {
		p.log.Warn("subscribe failed", "family", p.profile.Family,
			"fatal", p.profile.SubscribeFatal, "error", err)
		return nil, 0
	}
	return notify, p.profile.Deadline
}

// trigger writes the family's data-burst command, unacknowledged. Failures
// are non-fatal: some firmware revisions burst spontaneously anyway.
func (p *Poller) trigger(ctx context.Context, conn ble.Connection) {
	select {
	case <-time.After(p.profile.TriggerDelay):
	case <-ctx.Done():
		return
	}

	write, err := conn.DiscoverCharacteristic(p.profile.ServiceUUID, p.profile.WriteCharUUID)
	if err == nil {
		err = write.Write(p.profile.TriggerCommand)
	}
	if err != nil {
		p.log.Warn("trigger write failed", "family", p.profile.Family, "error", err)
	}
}

// wait blocks until the session completes, the deadline passes, or the
// caller's context is cancelled. This is the poll's single suspension point.
func (p *Poller) wait(ctx context.Context, session *Session, deadline time.Duration) {
	if deadline <= 0 {
		return
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-session.Done():
	case <-timer.C:
		data, config := session.Counts()
		p.log.Warn("timeout waiting for complete data",
			"data_packets", data, "config_packets", config)
	case <-ctx.Done():
	}
}

func (p *Poller) finish(session *Session) Result {
	return Result{
		Values:     session.Result(),
		Discovered: session.Discovered(),
	}
}
