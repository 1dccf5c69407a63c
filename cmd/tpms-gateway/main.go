// Command tpms-gateway polls BLE tire-pressure and blood-pressure monitors
// and publishes their readings to MQTT with Home Assistant discovery.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/rvlink/tpms-gateway/internal/app"
	"github.com/rvlink/tpms-gateway/internal/ble"
	"github.com/rvlink/tpms-gateway/internal/config"
	"github.com/rvlink/tpms-gateway/internal/tpms"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/tpms-gateway/config.yaml)")
	learn := flag.String("learn", "", "run one learning poll for the named device and print discovered sensors")
	rotate := flag.String("rotate", "", "apply a rotation pattern, e.g. \"trailer:X-Pattern\", and rewrite the config")
	scan := flag.Duration("scan", 0, "scan for nearby supported devices for the given duration and exit")
	flag.Parse()

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *scan > 0:
		err = runScan(ctx, cfg, *scan, log)
	case *learn != "":
		err = runLearn(ctx, cfg, *learn, log)
	case *rotate != "":
		err = runRotate(cfg, path, *rotate, log)
	default:
		err = app.Run(ctx, cfg, log)
	}
	if err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}

// loadConfig loads the config from the specified path, or falls back to the
// default config path. Returns the path actually used so -rotate can write
// the file back.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	cfg, err := config.Load(defaultPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
	}
	return cfg, defaultPath, nil
}

// runScan lists nearby TireLinc devices so the user can copy an address into
// the config. Medisana monitors only advertise briefly after a measurement,
// so a long window may be needed to catch one.
func runScan(ctx context.Context, cfg *config.Config, window time.Duration, log *slog.Logger) error {
	adapter := ble.NewBlueZAdapter(cfg.Adapter)
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enabling BLE adapter: %w", err)
	}

	log.Info("scanning for devices", "window", window)
	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	devices, err := adapter.Scan(scanCtx, "TireLinc")
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}

	if len(devices) == 0 {
		log.Warn("no devices found")
		return nil
	}
	fmt.Println("found devices:")
	for _, dev := range devices {
		fmt.Printf("  %s  %s  (RSSI %d)\n", dev.Address, dev.Name, dev.RSSI)
	}
	return nil
}

// runLearn performs a single poll in learning mode and prints the discovered
// sensor ids for the user to paste into the device's sensor table.
func runLearn(ctx context.Context, cfg *config.Config, name string, log *slog.Logger) error {
	dev, err := findDevice(cfg, name)
	if err != nil {
		return err
	}
	profile, err := tpms.ProfileForFamily(dev.Family)
	if err != nil {
		return err
	}

	adapter := ble.NewBlueZAdapter(cfg.Adapter)
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enabling BLE adapter: %w", err)
	}

	log.Info("learning: polling device", "device", dev.Name, "address", dev.Address)
	poller := tpms.NewPoller(adapter, profile, log)
	result, err := poller.Poll(ctx, tpms.Target{
		Address:      dev.Address,
		Learning:     true,
		DiscoveryCap: dev.DiscoveryCap,
	})
	if err != nil {
		return err
	}

	if len(result.Discovered) == 0 {
		log.Warn("no sensors discovered; make sure the tires are reporting")
		return nil
	}

	sort.Strings(result.Discovered)
	fmt.Println("discovered sensors:")
	for i, id := range result.Discovered {
		fmt.Printf("  tire_%d: %s\n", i+1, id)
	}
	return nil
}

// runRotate relabels the device's sensor table per a named rotation pattern
// and rewrites the config file.
func runRotate(cfg *config.Config, path, arg string, log *slog.Logger) error {
	name, patternName, ok := strings.Cut(arg, ":")
	if !ok {
		return fmt.Errorf("rotate: want <device>:<pattern>, got %q", arg)
	}
	dev, err := findDevice(cfg, name)
	if err != nil {
		return err
	}

	pattern, err := tpms.FindRotationPattern(len(dev.Sensors), patternName)
	if err != nil {
		return err
	}

	dev.Sensors = tpms.Rotate(dev.Sensors, pattern)
	if err := cfg.Save(path); err != nil {
		return err
	}
	log.Info("rotation applied", "device", dev.Name, "pattern", pattern.Name)
	return nil
}

func findDevice(cfg *config.Config, name string) (*config.DeviceConfig, error) {
	for i := range cfg.Devices {
		if cfg.Devices[i].Name == name {
			return &cfg.Devices[i], nil
		}
	}
	return nil, fmt.Errorf("no device named %q in config", name)
}
