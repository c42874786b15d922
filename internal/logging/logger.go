package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"cloudpico-station/internal/config"
	"cloudpico-station/internal/utils"
)

// New returns the process logger. Development builds get coloured tint
// output; everything else logs JSON for the collector.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newLogger(os.Stdout, cfg, version, appName)
}

func newLogger(w io.Writer, cfg config.Config, version, appName string) *slog.Logger {
	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName, "station", cfg.DeviceStationID)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		station(cfg),
	)
}

// station identifies the sensor a log line came from, so lines of several
// stations can share one sink.
func station(cfg config.Config) slog.Attr {
	bus := cfg.I2CBus
	if bus == "" {
		bus = "default"
	}
	return slog.Group("station",
		"id", cfg.DeviceStationID,
		"i2c_bus", bus,
		"sensor_addr", "0x"+utils.Hex4(cfg.BME280Address),
	)
}
