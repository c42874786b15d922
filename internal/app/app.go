package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cloudpico-station/internal/config"
	"cloudpico-station/internal/httpapi"
	"cloudpico-station/internal/mqtt"
	"cloudpico-station/internal/sensor"
	"cloudpico-station/internal/store"
	"cloudpico-station/internal/types"
	"cloudpico-station/internal/utils"
)

// Run samples the BME280 until ctx is done, storing and publishing every
// reading according to cfg.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("initializing station",
		"i2c_bus", cfg.I2CBus,
		"bme280_address", "0x"+utils.Hex4(cfg.BME280Address),
		"mqtt_enabled", cfg.MQTTEnabled,
		"sqlite_path", cfg.SQLitePath,
		"http_addr", cfg.HTTPAddr,
	)

	var sinks sensor.Sinks

	if cfg.SQLitePath != "" {
		st, err := store.Open(cfg.SQLitePath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("close store", "error", err)
			}
		}()
		sinks = append(sinks, st)

		if cfg.HTTPAddr != "" {
			stop := serveHTTP(cfg.HTTPAddr, httpapi.NewMux(st, logger), logger)
			defer stop()
		}
	} else if cfg.HTTPAddr != "" {
		logger.Warn("http api needs a sqlite path, not serving", "addr", cfg.HTTPAddr)
	}

	if cfg.MQTTEnabled {
		mqttClient := mqtt.NewClient(cfg, logger)
		defer mqttClient.Disconnect()

		go func() {
			// Paho keeps retrying; readings taken meanwhile are not published.
			if err := mqttClient.Connect(ctx); err != nil {
				logger.Error("mqtt connect failed", "error", err)
			}
		}()
		sinks = append(sinks, connectedOnly(mqttClient, logger))
	}

	err := sensor.Run(ctx, cfg, logger, sinks)

	logger.Info("station shutting down")
	return err
}

type publisher interface {
	IsConnected() bool
	PublishTelemetry(ctx context.Context, t types.Telemetry) error
}

// connectedOnly drops readings while the broker is unreachable instead of
// reporting an error on every tick.
func connectedOnly(p publisher, logger *slog.Logger) sensor.Sink {
	return sensor.SinkFunc(func(ctx context.Context, t types.Telemetry) error {
		if !p.IsConnected() {
			logger.Debug("mqtt not connected, reading not published", "sequence", t.Sequence)
			return nil
		}
		return p.PublishTelemetry(ctx, t)
	})
}

// serveHTTP listens on addr in the background. The returned func shuts the
// server down.
func serveHTTP(addr string, h http.Handler, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
	}
}
