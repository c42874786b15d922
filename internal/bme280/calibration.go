package bme280

import "context"

// Calibration holds the factory trimming coefficients. It is read once by
// Init and never modified afterwards.
type Calibration struct {
	T1 uint16
	T2 int16
	T3 int16

	P1 uint16
	P2 int16
	P3 int16
	P4 int16
	P5 int16
	P6 int16
	P7 int16
	P8 int16
	P9 int16

	H1 uint8
	H2 int16
	H3 uint8
	H4 int16
	H5 int16
	H6 int8
}

// readCalibration loads every coefficient from its fixed register address.
func readCalibration(ctx context.Context, r *regIO) (Calibration, error) {
	var c Calibration

	words := [...]struct {
		reg byte
		dst func(uint16)
	}{
		{regDigT1, func(v uint16) { c.T1 = v }},
		{regDigT2, func(v uint16) { c.T2 = int16(v) }},
		{regDigT3, func(v uint16) { c.T3 = int16(v) }},
		{regDigP1, func(v uint16) { c.P1 = v }},
		{regDigP2, func(v uint16) { c.P2 = int16(v) }},
		{regDigP3, func(v uint16) { c.P3 = int16(v) }},
		{regDigP4, func(v uint16) { c.P4 = int16(v) }},
		{regDigP5, func(v uint16) { c.P5 = int16(v) }},
		{regDigP6, func(v uint16) { c.P6 = int16(v) }},
		{regDigP7, func(v uint16) { c.P7 = int16(v) }},
		{regDigP8, func(v uint16) { c.P8 = int16(v) }},
		{regDigP9, func(v uint16) { c.P9 = int16(v) }},
	}
	for _, w := range words {
		v, err := r.readWord(ctx, w.reg)
		if err != nil {
			return Calibration{}, err
		}
		w.dst(v)
	}

	h1, err := r.readByte(ctx, regDigH1)
	if err != nil {
		return Calibration{}, err
	}
	h2, err := r.readWord(ctx, regDigH2)
	if err != nil {
		return Calibration{}, err
	}
	h3, err := r.readByte(ctx, regDigH3)
	if err != nil {
		return Calibration{}, err
	}

	// 0xE5 is read once and feeds both H4 and H5; nothing writes to the
	// device between these reads.
	var packed [3]byte
	for i, reg := range []byte{regDigH4, regDigH5, regDigE6} {
		if packed[i], err = r.readByte(ctx, reg); err != nil {
			return Calibration{}, err
		}
	}
	h6, err := r.readByte(ctx, regDigH6)
	if err != nil {
		return Calibration{}, err
	}

	c.H1 = h1
	c.H2 = int16(h2)
	c.H3 = h3
	c.H4, c.H5 = decodeH4H5(packed[0], packed[1], packed[2])
	c.H6 = int8(h6)
	return c, nil
}

// decodeH4H5 unpacks the two 12-bit humidity coefficients that share 0xE5.
// Both take their low nibble from 0xE5[3:0].
func decodeH4H5(e4, e5, e6 byte) (h4, h5 int16) {
	h4 = int16(e4)<<4 | int16(e5&0x0F)
	h5 = int16(e6)<<4 | int16(e5&0x0F)
	return h4, h5
}
