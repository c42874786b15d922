// Package sensor samples the station's BME280 on a fixed interval and hands
// every reading to a Sink.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"cloudpico-station/internal/bme280"
	"cloudpico-station/internal/config"
	"cloudpico-station/internal/types"
)

// Reader is the part of *bme280.Dev the sampling loop needs.
type Reader interface {
	Read(ctx context.Context) (bme280.Reading, error)
}

// Sink receives every successful reading.
type Sink interface {
	Consume(ctx context.Context, t types.Telemetry) error
}

type SinkFunc func(ctx context.Context, t types.Telemetry) error

func (f SinkFunc) Consume(ctx context.Context, t types.Telemetry) error { return f(ctx, t) }

// Sinks hands a reading to each sink in turn. One failing sink does not stop
// the others.
type Sinks []Sink

func (s Sinks) Consume(ctx context.Context, t types.Telemetry) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Consume(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Opts maps the environment configuration onto driver options.
func Opts(cfg config.Config, logger *slog.Logger) bme280.Opts {
	return bme280.Opts{
		Temperature:  cfg.Oversampling,
		Pressure:     cfg.Oversampling,
		Humidity:     cfg.Oversampling,
		Standby:      cfg.Standby,
		Filter:       cfg.Filter,
		ResetPolls:   cfg.ResetPolls,
		MeasurePolls: cfg.MeasurePolls,
		PollInterval: cfg.PollInterval,
		BusTimeout:   cfg.BusTimeout,
		Logger:       logger,
	}
}

// Run opens the I²C bus, brings up the sensor and samples it until ctx is
// done. Failing to bring the sensor up is fatal; a failed read is logged and
// the next tick tries again.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, sink Sink) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("close i2c bus", "error", err)
		}
	}()

	opts := Opts(cfg, logger)
	dev, err := bme280.NewI2C(ctx, bus, cfg.BME280Address, &opts)
	if err != nil {
		return fmt.Errorf("bme280 init: %w", err)
	}
	defer func() {
		if err := dev.Halt(); err != nil {
			logger.Warn("bme280 halt", "error", err)
		}
	}()

	logger.Info("sampling started",
		"device", dev.String(),
		"interval", cfg.SensorPollInterval,
		"station_id", cfg.DeviceStationID,
	)
	return NewSampler(dev, cfg.DeviceStationID, sink, logger).Loop(ctx, cfg.SensorPollInterval)
}

// Sampler turns readings into telemetry records.
type Sampler struct {
	reader    Reader
	stationID string
	sink      Sink
	logger    *slog.Logger
	now       func() time.Time

	sequence int
}

func NewSampler(r Reader, stationID string, sink Sink, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		reader:    r,
		stationID: stationID,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// Loop samples once per interval until ctx is done.
func (s *Sampler) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.Sample(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("sample failed", "error", err)
			}
		}
	}
}

// Sample takes one reading and hands it to the sink. The sequence number
// only advances on a successful read.
func (s *Sampler) Sample(ctx context.Context) error {
	r, err := s.reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	s.sequence++
	t := telemetry(r, s.stationID, s.sequence, s.now())

	s.logger.Debug("reading",
		"temperature_c", r.TemperatureC,
		"humidity_pct", r.HumidityPct,
		"pressure_hpa", r.PressureHPa,
		"sequence", s.sequence,
	)

	if s.sink == nil {
		return nil
	}
	if err := s.sink.Consume(ctx, t); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

// telemetry builds the record for r. A zero pressure means the calibration
// could not produce a value and is left out.
func telemetry(r bme280.Reading, stationID string, seq int, ts time.Time) types.Telemetry {
	temperature := widen(r.TemperatureC)
	humidity := widen(r.HumidityPct)
	t := types.Telemetry{
		StationID:   stationID,
		Timestamp:   ts,
		Temperature: &temperature,
		Humidity:    &humidity,
		Sequence:    &seq,
	}
	if r.PressureHPa > 0 {
		pressure := widen(r.PressureHPa)
		t.Pressure = &pressure
	}
	return t
}

// widen converts f to the float64 with the same shortest decimal form, so
// 25.08 stays 25.08 instead of 25.079999923706055.
func widen(f float32) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	return v
}
