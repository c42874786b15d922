package bme280

import "periph.io/x/conn/v3/physic"

// sample is one raw ADC triple taken from the data burst.
type sample struct {
	press int32 // 20 bits
	temp  int32 // 20 bits
	hum   int32 // 16 bits
}

// parseSample assembles the ADC values from press MSB/LSB/XLSB,
// temp MSB/LSB/XLSB and hum MSB/LSB.
func parseSample(b [burstLen]byte) sample {
	return sample{
		press: int32(b[0])<<12 | int32(b[1])<<4 | int32(b[2]>>4),
		temp:  int32(b[3])<<12 | int32(b[4])<<4 | int32(b[5]>>4),
		hum:   int32(b[6])<<8 | int32(b[7]),
	}
}

// measurement holds the compensated fixed-point outputs of one cycle.
type measurement struct {
	temperature int32  // 0.01 °C
	pressure    uint32 // Pa in Q24.8
	humidity    uint32 // %RH in Q22.10
}

// compensate runs the three formulas. Temperature goes first since it yields
// the fine temperature the other two depend on.
func (c *Calibration) compensate(s sample) measurement {
	t, tFine := c.compensateTemperature(s.temp)
	return measurement{
		temperature: t,
		pressure:    c.compensatePressure(s.press, tFine),
		humidity:    c.compensateHumidity(s.hum, tFine),
	}
}

// compensateTemperature returns temperature in 0.01 °C and the fine
// temperature. All arithmetic is int32 with arithmetic right shifts.
func (c *Calibration) compensateTemperature(raw int32) (t, tFine int32) {
	var1 := (((raw >> 3) - (int32(c.T1) << 1)) * int32(c.T2)) >> 11
	d := (raw >> 4) - int32(c.T1)
	var2 := (((d * d) >> 12) * int32(c.T3)) >> 14
	tFine = var1 + var2
	t = (tFine*5 + 128) >> 8
	return t, tFine
}

// compensatePressure returns pressure in Pa as Q24.8 (value/256 = Pa).
// A zero divisor yields 0.
func (c *Calibration) compensatePressure(raw, tFine int32) uint32 {
	var1 := int64(tFine) - 128000
	var2 := var1 * var1 * int64(c.P6)
	var2 += (var1 * int64(c.P5)) << 17
	var2 += int64(c.P4) << 35
	var1 = ((var1 * var1 * int64(c.P3)) >> 8) + ((var1 * int64(c.P2)) << 12)
	var1 = (((int64(1) << 47) + var1) * int64(c.P1)) >> 33
	if var1 == 0 {
		return 0
	}
	p := 1048576 - int64(raw)
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(c.P9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(c.P8) * p) >> 19
	p = ((p + var1 + var2) >> 8) + (int64(c.P7) << 4)
	return uint32(p)
}

// humidityMax is 100 %RH in the Q22.10 format before the final shift.
const humidityMax = 419430400

// compensateHumidity returns relative humidity as Q22.10 (value/1024 = %RH),
// clamped to [0, 100] %RH. All arithmetic is int32.
func (c *Calibration) compensateHumidity(raw, tFine int32) uint32 {
	v := tFine - 76800
	a := ((raw << 14) - (int32(c.H4) << 20) - (int32(c.H5) * v) + 16384) >> 15
	b := (((v * int32(c.H6)) >> 10) * (((v * int32(c.H3)) >> 11) + 32768)) >> 10
	b = ((b+2097152)*int32(c.H2) + 8192) >> 14
	v = a * b
	v -= ((((v >> 15) * (v >> 15)) >> 7) * int32(c.H1)) >> 4
	if v < 0 {
		v = 0
	}
	if v > humidityMax {
		v = humidityMax
	}
	return uint32(v >> 12)
}

// Reading is one compensated measurement.
//
// PressureHPa is the Q24.8 pressure divided by 256 and then by 100.
type Reading struct {
	TemperatureC float32
	PressureHPa  float32
	HumidityPct  float32
}

func (m measurement) reading() Reading {
	return Reading{
		TemperatureC: float32(m.temperature) / 100,
		PressureHPa:  float32(m.pressure) / 256 / 100,
		HumidityPct:  float32(m.humidity) / 1024,
	}
}

func (m measurement) env(e *physic.Env) {
	// Convert CentiCelsius to Kelvin.
	e.Temperature = physic.Temperature(m.temperature)*10*physic.MilliCelsius + physic.ZeroCelsius
	// 8 bits of fractional Pascal.
	e.Pressure = physic.Pressure(m.pressure) * 15625 * physic.MicroPascal / 4
	// Base 1024 to base 1000.
	e.Humidity = physic.RelativeHumidity(m.humidity) * 10000 / 1024 * physic.MicroRH
}
