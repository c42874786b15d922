package bme280

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const testAddr uint16 = 0x76

// fixtureCalibration is the datasheet worked example as stored in the chip.
// H5 takes the low nibble of 0xE5 shared with H4, so it reads back as 57.
var fixtureCalibration = Calibration{
	T1: 27504, T2: 26435, T3: -1000,
	P1: 36477, P2: -10685, P3: 3024, P4: 2855, P5: 140, P6: -7, P7: 15500, P8: -14600, P9: 6000,
	H1: 75, H2: 362, H3: 0, H4: 313, H5: 57, H6: 30,
}

// fixtureBurst holds adc_P=415148, adc_T=519888 and adc_H=30000.
var fixtureBurst = []byte{0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00, 0x75, 0x30}

func rd(addr uint16, reg byte, r ...byte) i2ctest.IO {
	return i2ctest.IO{Addr: addr, W: []byte{reg}, R: r}
}

func wr(addr uint16, reg, v byte) i2ctest.IO {
	return i2ctest.IO{Addr: addr, W: []byte{reg, v}}
}

func calibrationOps(addr uint16) []i2ctest.IO {
	return []i2ctest.IO{
		rd(addr, 0x88, 0x70, 0x6B),
		rd(addr, 0x8A, 0x43, 0x67),
		rd(addr, 0x8C, 0x18, 0xFC),
		rd(addr, 0x8E, 0x7D, 0x8E),
		rd(addr, 0x90, 0x43, 0xD6),
		rd(addr, 0x92, 0xD0, 0x0B),
		rd(addr, 0x94, 0x27, 0x0B),
		rd(addr, 0x96, 0x8C, 0x00),
		rd(addr, 0x98, 0xF9, 0xFF),
		rd(addr, 0x9A, 0x8C, 0x3C),
		rd(addr, 0x9C, 0xF8, 0xC6),
		rd(addr, 0x9E, 0x70, 0x17),
		rd(addr, 0xA1, 0x4B),
		rd(addr, 0xE1, 0x6A, 0x01),
		rd(addr, 0xE3, 0x00),
		rd(addr, 0xE4, 0x13),
		rd(addr, 0xE5, 0x09),
		rd(addr, 0xE6, 0x03),
		rd(addr, 0xE7, 0x1E),
	}
}

func configOps(addr uint16, ctrlHum, ctrlMeas, config byte) []i2ctest.IO {
	return []i2ctest.IO{
		wr(addr, 0xF2, ctrlHum),
		wr(addr, 0xF4, ctrlMeas),
		wr(addr, 0xF5, config),
	}
}

// initOps is a full Init with the default options: the identity reads in
// ids, the calibration and the sleep-mode configuration.
func initOps(addr uint16, ids ...byte) []i2ctest.IO {
	var ops []i2ctest.IO
	for _, id := range ids {
		ops = append(ops, rd(addr, 0xD0, id))
	}
	ops = append(ops, calibrationOps(addr)...)
	return append(ops, configOps(addr, 0x01, 0x24, 0xA0)...)
}

// readOps is one forced measurement that is done after the given number of
// busy status reads.
func readOps(addr uint16, busy int) []i2ctest.IO {
	ops := configOps(addr, 0x01, 0x25, 0xA0)
	for i := 0; i < busy; i++ {
		ops = append(ops, rd(addr, 0xF3, 0x08))
	}
	ops = append(ops, rd(addr, 0xF3, 0x00))
	ops = append(ops, rd(addr, 0xF7, fixtureBurst...))
	return append(ops, rd(addr, 0xF4, 0x24))
}

func concat(parts ...[]i2ctest.IO) []i2ctest.IO {
	var out []i2ctest.IO
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func testOpts() *Opts {
	o := DefaultOpts
	o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return &o
}

// newTestDev binds a Dev to a playback bus that must be fully consumed by
// the end of the test.
func newTestDev(t *testing.T, opts *Opts, ops ...[]i2ctest.IO) (*Dev, *i2ctest.Playback) {
	t.Helper()
	bus := &i2ctest.Playback{Ops: concat(ops...), DontPanic: true}
	d := New(&i2c.Dev{Bus: bus, Addr: testAddr}, opts)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() {
		if err := bus.Close(); err != nil {
			t.Errorf("playback: %v", err)
		}
	})
	return d, bus
}

func initTestDev(t *testing.T, ops ...[]i2ctest.IO) *Dev {
	t.Helper()
	d, _ := newTestDev(t, testOpts(), append([][]i2ctest.IO{initOps(testAddr, chipID)}, ops...)...)
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d
}

func TestInit(t *testing.T) {
	d, _ := newTestDev(t, testOpts(), initOps(testAddr, 0x00, 0xFF, chipID))
	if got := d.State(); got != StateAwaitingReset {
		t.Fatalf("State before Init = %v, want %v", got, StateAwaitingReset)
	}

	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := d.State(); got != StateConfigured {
		t.Errorf("State = %v, want %v", got, StateConfigured)
	}
	if got := d.Calibration(); got != fixtureCalibration {
		t.Errorf("Calibration =\n%+v\nwant\n%+v", got, fixtureCalibration)
	}
	if got, want := d.Config(), DefaultOpts.config(); got != want {
		t.Errorf("Config = %+v, want %+v", got, want)
	}
}

func TestInit_UnexpectedIdentity(t *testing.T) {
	opts := testOpts()
	opts.ResetPolls = 3
	d, _ := newTestDev(t, opts, []i2ctest.IO{
		rd(testAddr, 0xD0, 0x58),
		rd(testAddr, 0xD0, 0x58),
		rd(testAddr, 0xD0, 0x58),
	})

	err := d.Init(context.Background())
	if !errors.Is(err, ErrUnexpectedIdentity) {
		t.Fatalf("Init error = %v, want ErrUnexpectedIdentity", err)
	}
	if !strings.Contains(err.Error(), "0x58") {
		t.Errorf("error %q does not name the identity read", err)
	}
	if got := d.State(); got != StateAwaitingReset {
		t.Errorf("State = %v, want %v", got, StateAwaitingReset)
	}
}

func TestInit_TransportError(t *testing.T) {
	d, _ := newTestDev(t, testOpts())

	err := d.Init(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Init error = %v, want *TransportError", err)
	}
	if terr.Reg != regID {
		t.Errorf("failed register = %#x, want %#x", terr.Reg, regID)
	}
}

func TestInit_InvalidOpts(t *testing.T) {
	opts := testOpts()
	opts.Filter = 9
	d, _ := newTestDev(t, opts)

	if err := d.Init(context.Background()); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("Init error = %v, want ErrInvalidSetting", err)
	}
}

func TestRead(t *testing.T) {
	d := initTestDev(t, readOps(testAddr, 2))

	r, err := d.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !approx(float64(r.TemperatureC), 25.08, 1e-4) {
		t.Errorf("TemperatureC = %v, want 25.08", r.TemperatureC)
	}
	if !approx(float64(r.PressureHPa), 1006.5325, 1e-3) {
		t.Errorf("PressureHPa = %v, want 1006.5325", r.PressureHPa)
	}
	if r.HumidityPct != 54.875 {
		t.Errorf("HumidityPct = %v, want 54.875", r.HumidityPct)
	}
	if got := d.Config().Mode; got != Sleep {
		t.Errorf("Mode after forced read = %v, want %v", got, Sleep)
	}
}

func TestRead_Repeatable(t *testing.T) {
	d := initTestDev(t, readOps(testAddr, 0), readOps(testAddr, 1))
	ctx := context.Background()

	first, err := d.Read(ctx)
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	second, err := d.Read(ctx)
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if first != second {
		t.Errorf("same raw data gave %+v then %+v", first, second)
	}
}

func TestSense(t *testing.T) {
	d := initTestDev(t, readOps(testAddr, 0))

	var e physic.Env
	if err := d.Sense(&e); err != nil {
		t.Fatalf("Sense: %v", err)
	}
	if want := 25080*physic.MilliCelsius + physic.ZeroCelsius; e.Temperature != want {
		t.Errorf("Temperature = %v, want %v", e.Temperature, want)
	}
	if want := 548750 * physic.MicroRH; e.Humidity != want {
		t.Errorf("Humidity = %v, want %v", e.Humidity, want)
	}
	if e.Pressure <= 0 {
		t.Errorf("Pressure = %v, want positive", e.Pressure)
	}
}

func TestRead_MeasurementTimeout(t *testing.T) {
	opts := testOpts()
	opts.MeasurePolls = 3
	d, _ := newTestDev(t, opts,
		initOps(testAddr, chipID),
		configOps(testAddr, 0x01, 0x25, 0xA0),
		[]i2ctest.IO{
			rd(testAddr, 0xF3, 0x08),
			rd(testAddr, 0xF3, 0x09),
			rd(testAddr, 0xF3, 0x08),
		},
	)
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := d.Read(context.Background()); !errors.Is(err, ErrMeasurementTimeout) {
		t.Fatalf("Read error = %v, want ErrMeasurementTimeout", err)
	}
	if got := d.Config().Mode; got != Sleep {
		t.Errorf("Mode after timed out read = %v, want %v", got, Sleep)
	}
}

func TestRead_ModeReadBackFailureKeepsReading(t *testing.T) {
	d := initTestDev(t,
		configOps(testAddr, 0x01, 0x27, 0xA0), // normal mode
		configOps(testAddr, 0x01, 0x25, 0xA0),
		[]i2ctest.IO{
			rd(testAddr, 0xF3, 0x00),
			rd(testAddr, 0xF7, fixtureBurst...),
		},
	)
	ctx := context.Background()

	if err := d.SetMode(ctx, Normal); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	r, err := d.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.HumidityPct != 54.875 {
		t.Errorf("HumidityPct = %v, want 54.875", r.HumidityPct)
	}
	if got := d.Config().Mode; got != Sleep {
		t.Errorf("Mode = %v, want %v", got, Sleep)
	}
}

func TestRead_NotInitialized(t *testing.T) {
	d, _ := newTestDev(t, testOpts())
	ctx := context.Background()

	if _, err := d.Read(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Read error = %v, want ErrNotInitialized", err)
	}
	if err := d.SetMode(ctx, Normal); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SetMode error = %v, want ErrNotInitialized", err)
	}
	if err := d.Halt(); err != nil {
		t.Errorf("Halt before Init = %v, want nil", err)
	}
}

func TestRead_Canceled(t *testing.T) {
	d := initTestDev(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Read error = %v, want context.Canceled", err)
	}
}

func TestSetters_WriteThrough(t *testing.T) {
	d := initTestDev(t,
		configOps(testAddr, 0x04, 0x4C, 0xA0), // oversampling t=2x p=4x h=8x
		configOps(testAddr, 0x04, 0x4C, 0xB0), // filter 16
		configOps(testAddr, 0x04, 0x4C, 0xD0), // standby 10 ms
		configOps(testAddr, 0x04, 0x4F, 0xD0), // normal mode
	)
	ctx := context.Background()

	if err := d.SetOversampling(ctx, O2x, O4x, O8x); err != nil {
		t.Fatalf("SetOversampling: %v", err)
	}
	if err := d.SetFilter(ctx, F16); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if err := d.SetStandby(ctx, S10ms); err != nil {
		t.Fatalf("SetStandby: %v", err)
	}
	if err := d.SetMode(ctx, Normal); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	want := Config{
		Humidity:    O8x,
		Temperature: O2x,
		Pressure:    O4x,
		Mode:        Normal,
		Standby:     S10ms,
		Filter:      F16,
	}
	if got := d.Config(); got != want {
		t.Errorf("Config = %+v, want %+v", got, want)
	}
}

func TestSetters_InvalidRejected(t *testing.T) {
	d := initTestDev(t)
	ctx := context.Background()
	before := d.Config()

	tests := []struct {
		name string
		set  func() error
	}{
		{name: "mode", set: func() error { return d.SetMode(ctx, Mode(2)) }},
		{name: "filter", set: func() error { return d.SetFilter(ctx, Filter(5)) }},
		{name: "standby", set: func() error { return d.SetStandby(ctx, Standby(8)) }},
		{name: "oversampling", set: func() error { return d.SetOversampling(ctx, O1x, Oversampling(6), O1x) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.set(); !errors.Is(err, ErrInvalidSetting) {
				t.Fatalf("error = %v, want ErrInvalidSetting", err)
			}
			if got := d.Config(); got != before {
				t.Errorf("Config changed to %+v after rejected setting", got)
			}
		})
	}
}

func TestSetters_WriteFailureKeepsConfig(t *testing.T) {
	// ctrl_hum is accepted, the ctrl_meas write never happens.
	d := initTestDev(t, []i2ctest.IO{wr(testAddr, 0xF2, 0x01)})
	before := d.Config()

	err := d.SetMode(context.Background(), Normal)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("SetMode error = %v, want *TransportError", err)
	}
	if terr.Op != "write" || terr.Reg != regCtrlMeas {
		t.Errorf("TransportError = %+v, want write of %#x", terr, regCtrlMeas)
	}
	if got := d.Config(); got != before {
		t.Errorf("Config = %+v after failed write, want %+v", got, before)
	}
}

func TestSetMode_ForcedIsOneShot(t *testing.T) {
	d := initTestDev(t,
		configOps(testAddr, 0x01, 0x25, 0xA0), // one conversion
		configOps(testAddr, 0x01, 0x24, 0xA4), // filter 2, still asleep
		configOps(testAddr, 0x01, 0x25, 0xA4), // Read trigger
		[]i2ctest.IO{
			rd(testAddr, 0xF3, 0x00),
			rd(testAddr, 0xF7, fixtureBurst...),
			rd(testAddr, 0xF4, 0x24),
		},
		configOps(testAddr, 0x01, 0x24, 0xA8), // filter 4 after a read
	)
	ctx := context.Background()

	if err := d.SetMode(ctx, Forced); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if got := d.Config().Mode; got != Sleep {
		t.Errorf("Mode after SetMode(Forced) = %v, want %v", got, Sleep)
	}
	if err := d.SetFilter(ctx, F2); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if _, err := d.Read(ctx); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := d.SetFilter(ctx, F4); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if got := d.Config().Mode; got != Sleep {
		t.Errorf("Mode = %v, want %v", got, Sleep)
	}
}

func TestReset(t *testing.T) {
	d := initTestDev(t,
		configOps(testAddr, 0x01, 0x27, 0xA0), // normal mode
		[]i2ctest.IO{wr(testAddr, 0xE0, 0xB6)},
		initOps(testAddr, 0x00, chipID),
	)
	ctx := context.Background()

	if err := d.SetMode(ctx, Normal); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := d.State(); got != StateConfigured {
		t.Errorf("State = %v, want %v", got, StateConfigured)
	}
	if got := d.Config().Mode; got != Sleep {
		t.Errorf("Mode after Reset = %v, want %v", got, Sleep)
	}
}

func TestHalt(t *testing.T) {
	d := initTestDev(t, configOps(testAddr, 0x01, 0x24, 0xA0))
	if err := d.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
}

func TestNewI2C(t *testing.T) {
	const addr = 0x77
	bus := &i2ctest.Playback{Ops: initOps(addr, chipID), DontPanic: true}
	rec := &i2ctest.Record{Bus: bus}

	d, err := NewI2C(context.Background(), rec, addr, testOpts())
	if err != nil {
		t.Fatalf("NewI2C: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("playback: %v", err)
	}
	if got := d.State(); got != StateConfigured {
		t.Errorf("State = %v, want %v", got, StateConfigured)
	}
	if len(rec.Ops) != len(initOps(addr, chipID)) {
		t.Fatalf("recorded %d transactions, want %d", len(rec.Ops), len(initOps(addr, chipID)))
	}
	// ctrl_hum must reach the chip before ctrl_meas.
	last := rec.Ops[len(rec.Ops)-3:]
	if last[0].W[0] != regCtrlHum || last[1].W[0] != regCtrlMeas || last[2].W[0] != regConfig {
		t.Errorf("config write order = %#x %#x %#x, want f2 f4 f5", last[0].W[0], last[1].W[0], last[2].W[0])
	}
}

func TestNewI2C_InvalidAddress(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	for _, addr := range []uint16{0x00, 0x40, 0x75, 0x78} {
		if _, err := NewI2C(context.Background(), bus, addr, testOpts()); !errors.Is(err, ErrInvalidSetting) {
			t.Errorf("NewI2C(%#x) error = %v, want ErrInvalidSetting", addr, err)
		}
	}
	if bus.Count != 0 {
		t.Errorf("bus saw %d transactions, want 0", bus.Count)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateAwaitingReset:     "awaiting-reset",
		StateCalibrationLoaded: "calibration-loaded",
		StateConfigured:        "configured",
		State(9):               "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
