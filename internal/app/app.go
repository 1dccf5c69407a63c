// Package app wires the BLE adapter, the device pollers, and the MQTT
// publisher into the gateway's run loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rvlink/tpms-gateway/internal/ble"
	"github.com/rvlink/tpms-gateway/internal/config"
	"github.com/rvlink/tpms-gateway/internal/mqtt"
	"github.com/rvlink/tpms-gateway/internal/tpms"
)

// Run starts the gateway and blocks until ctx is cancelled. One goroutine
// per device drives a ticker loop; polls for the same device never overlap.
func Run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	adapter := ble.NewBlueZAdapter(cfg.Adapter)
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enabling BLE adapter: %w", err)
	}
	log.Info("BLE adapter enabled", "adapter", cfg.Adapter)

	broker := mqtt.NewClient(cfg.MQTT, log)
	if err := broker.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	defer broker.Disconnect()

	var wg sync.WaitGroup
	for i := range cfg.Devices {
		dev := cfg.Devices[i]
		runner, err := newDeviceRunner(adapter, broker, dev, log)
		if err != nil {
			return fmt.Errorf("device %s: %w", dev.Name, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.run(ctx)
		}()
	}

	wg.Wait()
	return nil
}

// deviceRunner owns the poll schedule for one device.
type deviceRunner struct {
	dev    config.DeviceConfig
	poller *tpms.Poller
	target tpms.Target
	broker *mqtt.Client
	log    *slog.Logger
}

func newDeviceRunner(adapter ble.Adapter, broker *mqtt.Client, dev config.DeviceConfig, log *slog.Logger) (*deviceRunner, error) {
	if log == nil {
		log = slog.Default()
	}
	profile, err := tpms.ProfileForFamily(dev.Family)
	if err != nil {
		return nil, err
	}
	mapping, err := tpms.BuildPositionMapping(dev.Sensors)
	if err != nil {
		return nil, err
	}

	expected := dev.ExpectedDataPackets
	if expected == 0 && len(mapping) > 0 && len(mapping) != profile.ExpectedData {
		// The configured tire count wins over the family default in both
		// directions: fewer tires and the full default burst never comes,
		// more (a six-tire rig) and completing at the default would drop
		// the rear duals.
		expected = len(mapping)
	}

	devLog := log.With("device", dev.Name, "family", dev.Family)
	return &deviceRunner{
		dev:    dev,
		poller: tpms.NewPoller(adapter, profile, devLog),
		target: tpms.Target{
			Address:      dev.Address,
			Mapping:      mapping,
			ExpectedData: expected,
		},
		broker: broker,
		log:    devLog,
	}, nil
}

// run polls once immediately, then on every tick until ctx is cancelled.
func (r *deviceRunner) run(ctx context.Context) {
	if err := r.broker.PublishDiscovery(r.dev.Name, mqtt.SensorKeys(r.positions())); err != nil {
		r.log.Warn("publishing discovery configs failed", "error", err)
	}

	r.pollAndPublish(ctx)

	ticker := time.NewTicker(r.dev.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollAndPublish(ctx)
		}
	}
}

func (r *deviceRunner) pollAndPublish(ctx context.Context) {
	start := time.Now()
	result, err := r.poller.Poll(ctx, r.target)
	if err != nil && !errors.Is(err, tpms.ErrUnreachable) {
		r.log.Error("poll failed", "error", err)
		return
	}

	reachable := err == nil
	if pubErr := r.broker.PublishAvailability(r.dev.Name, reachable); pubErr != nil {
		r.log.Warn("publishing availability failed", "error", pubErr)
	}
	if !reachable {
		r.log.Warn("device unreachable", "elapsed", time.Since(start).Round(time.Millisecond))
		return
	}

	if len(result.Values) == 0 {
		// Keep last-good retained state rather than publishing an empty doc.
		r.log.Warn("poll returned no data")
		return
	}

	if pubErr := r.broker.PublishState(r.dev.Name, result.Values); pubErr != nil {
		r.log.Warn("publishing state failed", "error", pubErr)
		return
	}
	r.log.Info("poll complete",
		"values", len(result.Values),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func (r *deviceRunner) positions() []int {
	seen := make(map[int]bool)
	for _, pos := range r.target.Mapping {
		seen[pos] = true
	}
	positions := make([]int, 0, len(seen))
	for pos := range seen {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	return positions
}
