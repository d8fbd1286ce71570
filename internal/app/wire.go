package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"canairio/station-agent/internal/config"
	"canairio/station-agent/internal/indicator"
	"canairio/station-agent/internal/portal"
	"canairio/station-agent/internal/radio"
	"canairio/station-agent/internal/sensor"
	"canairio/station-agent/internal/store"
)

// Build assembles a Station from the runtime configuration. The returned
// function releases storage and the status LED.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Station, func(), error) {
	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	creds, err := radio.LoadCredentials(ctx, storage)
	if err != nil {
		logger.Warn("saved wifi credentials ignored", "error", err)
	}

	var r Radio
	switch cfg.Radio {
	case config.RadioHost:
		r, err = radio.NewHost(creds, cfg.Interface, logger)
	default:
		var hw net.HardwareAddr
		hw, err = net.ParseMAC(cfg.SimHardware)
		if err == nil {
			r = radio.NewSim(creds, hw, cfg.SimNetworks, 2*time.Second)
		}
	}
	if err != nil {
		closeStorage()
		return nil, nil, fmt.Errorf("open %s radio: %w", cfg.Radio, err)
	}

	led := indicator.NewLED(cfg.LEDPath, 0, logger)
	deps := Deps{
		Storage:   storage,
		Radio:     r,
		Portal:    portal.New(cfg.PortalAddr, cfg.PortalMDNS, logger),
		Sensor:    sensor.NewSim(time.Now().UnixNano(), cfg.SensorWarmup, nil),
		Indicator: led,
	}

	station, err := NewStation(ctx, cfg, deps, logger, time.Now())
	if err != nil {
		closeStorage()
		return nil, nil, err
	}

	cleanup := func() {
		led.Close()
		closeStorage()
	}
	return station, cleanup, nil
}

func openStorage(ctx context.Context, cfg config.Config) (store.Storage, func(), error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		db, err := store.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.InitSchema(ctx); err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}
		return db, func() { _ = db.Close() }, nil
	default:
		dir, err := store.OpenDir(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return dir, func() {}, nil
	}
}
