package bme280

import (
	"context"
	"fmt"
)

// Config mirrors the three control registers. Dev only changes its copy
// after the matching registers were written successfully.
type Config struct {
	Humidity    Oversampling
	Temperature Oversampling
	Pressure    Oversampling
	Mode        Mode
	Standby     Standby
	Filter      Filter
	SPI3Wire    bool
}

func (c Config) validate() error {
	switch {
	case !c.Humidity.valid():
		return fmt.Errorf("%w: humidity oversampling %d", ErrInvalidSetting, c.Humidity)
	case !c.Temperature.valid():
		return fmt.Errorf("%w: temperature oversampling %d", ErrInvalidSetting, c.Temperature)
	case !c.Pressure.valid():
		return fmt.Errorf("%w: pressure oversampling %d", ErrInvalidSetting, c.Pressure)
	case !c.Mode.valid():
		return fmt.Errorf("%w: mode %d", ErrInvalidSetting, c.Mode)
	case !c.Standby.valid():
		return fmt.Errorf("%w: standby %d", ErrInvalidSetting, c.Standby)
	case !c.Filter.valid():
		return fmt.Errorf("%w: filter %d", ErrInvalidSetting, c.Filter)
	}
	return nil
}

// registers packs c into ctrl_hum, ctrl_meas and config.
func (c Config) registers() (ctrlHum, ctrlMeas, config byte) {
	ctrlHum = byte(c.Humidity)
	ctrlMeas = byte(c.Temperature)<<5 | byte(c.Pressure)<<2 | byte(c.Mode)
	config = byte(c.Standby)<<5 | byte(c.Filter)<<2
	if c.SPI3Wire {
		config |= 1
	}
	return ctrlHum, ctrlMeas, config
}

// writeConfig writes ctrl_hum before ctrl_meas; the chip only latches
// ctrl_hum on the following ctrl_meas write.
func writeConfig(ctx context.Context, r *regIO, c Config) error {
	ctrlHum, ctrlMeas, config := c.registers()
	if err := r.writeByte(ctx, regCtrlHum, ctrlHum); err != nil {
		return err
	}
	if err := r.writeByte(ctx, regCtrlMeas, ctrlMeas); err != nil {
		return err
	}
	return r.writeByte(ctx, regConfig, config)
}
