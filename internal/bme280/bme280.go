// Package bme280 drives a Bosch BME280 combined humidity, pressure and
// temperature sensor over I²C, one forced-mode conversion at a time.
//
// Datasheet:
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
package bme280

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-station/internal/utils"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// startupTime is the datasheet power-on/soft-reset start-up time.
const startupTime = 2 * time.Millisecond

// State is the initialization progress of a Dev.
type State uint8

const (
	StateAwaitingReset State = iota
	StateCalibrationLoaded
	StateConfigured
)

func (s State) String() string {
	switch s {
	case StateAwaitingReset:
		return "awaiting-reset"
	case StateCalibrationLoaded:
		return "calibration-loaded"
	case StateConfigured:
		return "configured"
	default:
		return "unknown"
	}
}

// Opts is the initial configuration and the polling bounds of a Dev.
type Opts struct {
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	Standby     Standby
	Filter      Filter
	SPI3Wire    bool

	// ResetPolls bounds how many times the identity register is read while
	// waiting for power-on reset.
	ResetPolls int
	// MeasurePolls bounds how many times the status register is read while
	// waiting for a conversion.
	MeasurePolls int
	// PollInterval is the delay between two polls.
	PollInterval time.Duration
	// BusTimeout bounds each bus transaction. Zero disables the bound.
	BusTimeout time.Duration

	Logger *slog.Logger
}

// DefaultOpts is 1x oversampling on every channel, sleep mode, 1000 ms
// standby and no filtering.
var DefaultOpts = Opts{
	Temperature:  O1x,
	Pressure:     O1x,
	Humidity:     O1x,
	Standby:      S1000ms,
	Filter:       NoFilter,
	ResetPolls:   100,
	MeasurePolls: 100,
	PollInterval: 2 * time.Millisecond,
	BusTimeout:   time.Second,
}

func (o *Opts) config() Config {
	return Config{
		Humidity:    o.Humidity,
		Temperature: o.Temperature,
		Pressure:    o.Pressure,
		Mode:        Sleep,
		Standby:     o.Standby,
		Filter:      o.Filter,
		SPI3Wire:    o.SPI3Wire,
	}
}

// Dev is a handle to one BME280.
//
// A Dev is not safe for concurrent use; callers sharing one must serialize
// access.
type Dev struct {
	io     regIO
	opts   Opts
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error

	state State
	cal   Calibration
	cfg   Config
}

// New binds a Dev to the device handle c. Call Init before anything else.
func New(c conn.Conn, opts *Opts) *Dev {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.ResetPolls <= 0 {
		o.ResetPolls = DefaultOpts.ResetPolls
	}
	if o.MeasurePolls <= 0 {
		o.MeasurePolls = DefaultOpts.MeasurePolls
	}
	if o.PollInterval < 0 {
		o.PollInterval = 0
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dev{
		io:     regIO{c: c, timeout: o.BusTimeout},
		opts:   o,
		logger: logger.With("device", "bme280"),
		sleep:  sleepCtx,
	}
}

// NewI2C opens the BME280 at addr on bus b and initializes it.
func NewI2C(ctx context.Context, b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	switch addr {
	case 0x76, 0x77:
	default:
		return nil, fmt.Errorf("%w: i2c address 0x%02X (allowed: 0x76, 0x77)", ErrInvalidSetting, addr)
	}
	d := New(&i2c.Dev{Bus: b, Addr: addr}, opts)
	if err := d.Init(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("BME280{%s}", d.io.c)
}

// State returns how far initialization got.
func (d *Dev) State() State { return d.state }

// Calibration returns the coefficients read by Init.
func (d *Dev) Calibration() Calibration { return d.cal }

// Config returns the configuration last written to the device.
func (d *Dev) Config() Config { return d.cfg }

// Init waits for power-on reset, loads the calibration and writes the
// initial configuration from Opts.
func (d *Dev) Init(ctx context.Context) error {
	return d.init(ctx, d.opts.config())
}

func (d *Dev) init(ctx context.Context, cfg Config) error {
	d.state = StateAwaitingReset
	if err := cfg.validate(); err != nil {
		return err
	}

	var id byte
	ok, err := d.poll(ctx, d.opts.ResetPolls, func() (bool, error) {
		var err error
		id, err = d.io.readByte(ctx, regID)
		return id == chipID, err
	})
	if err != nil {
		return fmt.Errorf("await reset: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: read 0x%02X after %d attempts, want 0x%02X",
			ErrUnexpectedIdentity, id, d.opts.ResetPolls, chipID)
	}

	cal, err := readCalibration(ctx, &d.io)
	if err != nil {
		return fmt.Errorf("read calibration: %w", err)
	}
	d.cal = cal
	d.state = StateCalibrationLoaded
	d.logger.Debug("bme280 calibration loaded", "calibration", cal)

	if err := writeConfig(ctx, &d.io, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	d.cfg = cfg
	d.state = StateConfigured
	d.logger.Info("bme280 configured",
		"conn", d.io.c.String(),
		"osrs_t", cfg.Temperature.String(),
		"osrs_p", cfg.Pressure.String(),
		"osrs_h", cfg.Humidity.String(),
		"mode", cfg.Mode.String(),
	)
	return nil
}

// Read triggers one forced conversion and returns the compensated values.
func (d *Dev) Read(ctx context.Context) (Reading, error) {
	m, err := d.measure(ctx)
	if err != nil {
		return Reading{}, err
	}
	return m.reading(), nil
}

// Sense implements the periph environmental sensor contract. Each metric
// is always filled in.
func (d *Dev) Sense(e *physic.Env) error {
	m, err := d.measure(context.Background())
	if err != nil {
		return err
	}
	m.env(e)
	return nil
}

func (d *Dev) measure(ctx context.Context) (measurement, error) {
	if d.state != StateConfigured {
		return measurement{}, ErrNotInitialized
	}

	cfg := d.cfg
	cfg.Mode = Forced
	if err := writeConfig(ctx, &d.io, cfg); err != nil {
		return measurement{}, fmt.Errorf("trigger conversion: %w", err)
	}
	// The trigger replaced whatever mode was stored. Forced never persists,
	// so anything short of a confirmed read-back leaves the chip in sleep.
	d.cfg.Mode = Sleep

	ok, err := d.poll(ctx, d.opts.MeasurePolls, func() (bool, error) {
		status, err := d.io.readByte(ctx, regStatus)
		return status&statusMeasuring == 0, err
	})
	if err != nil {
		return measurement{}, fmt.Errorf("await conversion: %w", err)
	}
	if !ok {
		return measurement{}, fmt.Errorf("%w: still measuring after %d polls", ErrMeasurementTimeout, d.opts.MeasurePolls)
	}

	buf, err := d.io.burstRead(ctx, regPress)
	if err != nil {
		return measurement{}, err
	}
	d.logger.Debug("bme280 data burst", "data", utils.BytesToHex(buf[:]))

	m := d.cal.compensate(parseSample(buf))

	// Forced mode falls back to sleep by itself once the conversion is done;
	// take the mode from the chip instead of assuming it.
	ctrlMeas, err := d.io.readByte(ctx, regCtrlMeas)
	if err != nil {
		d.logger.Warn("bme280 mode read-back failed, assuming sleep", "error", err)
		return m, nil
	}
	// 01 and 10 both mean forced; only normal outlives a conversion.
	if Mode(ctrlMeas&0x03) == Normal {
		d.cfg.Mode = Normal
	}
	return m, nil
}

// SetOversampling changes the oversampling of the three channels.
func (d *Dev) SetOversampling(ctx context.Context, temperature, pressure, humidity Oversampling) error {
	cfg := d.cfg
	cfg.Temperature, cfg.Pressure, cfg.Humidity = temperature, pressure, humidity
	return d.apply(ctx, cfg)
}

// SetMode changes the power mode. Forced starts a single conversion and
// the device is tracked as sleeping afterwards; use Read to collect it.
func (d *Dev) SetMode(ctx context.Context, m Mode) error {
	cfg := d.cfg
	cfg.Mode = m
	return d.apply(ctx, cfg)
}

// SetStandby changes the normal-mode standby period.
func (d *Dev) SetStandby(ctx context.Context, s Standby) error {
	cfg := d.cfg
	cfg.Standby = s
	return d.apply(ctx, cfg)
}

// SetFilter changes the IIR filter coefficient.
func (d *Dev) SetFilter(ctx context.Context, f Filter) error {
	cfg := d.cfg
	cfg.Filter = f
	return d.apply(ctx, cfg)
}

// apply writes cfg and only then adopts it. Forced is one-shot and is
// stored as Sleep.
func (d *Dev) apply(ctx context.Context, cfg Config) error {
	if d.state != StateConfigured {
		return ErrNotInitialized
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := writeConfig(ctx, &d.io, cfg); err != nil {
		return err
	}
	if cfg.Mode == Forced {
		cfg.Mode = Sleep
	}
	d.cfg = cfg
	return nil
}

// Reset issues a soft reset and initializes the device again with the
// current settings in sleep mode.
func (d *Dev) Reset(ctx context.Context) error {
	cfg := d.cfg
	if d.state != StateConfigured {
		cfg = d.opts.config()
	}
	cfg.Mode = Sleep
	if err := d.io.writeByte(ctx, regReset, softResetWord); err != nil {
		return err
	}
	d.state = StateAwaitingReset
	if err := d.sleep(ctx, startupTime); err != nil {
		return err
	}
	return d.init(ctx, cfg)
}

// Halt puts the device to sleep.
func (d *Dev) Halt() error {
	if d.state != StateConfigured {
		return nil
	}
	return d.SetMode(context.Background(), Sleep)
}

// poll calls check up to attempts times with PollInterval in between and
// reports whether check ever returned true.
func (d *Dev) poll(ctx context.Context, attempts int, check func() (bool, error)) (bool, error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := d.sleep(ctx, d.opts.PollInterval); err != nil {
				return false, err
			}
		}
		ok, err := check()
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ conn.Resource = &Dev{}
