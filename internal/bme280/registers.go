package bme280

// DefaultAddress is the 7-bit I²C address with SDO tied to GND.
const DefaultAddress uint16 = 0x76

// chipID is the value of regID once power-on reset has completed.
const chipID byte = 0x60

const (
	regID       byte = 0xD0
	regReset    byte = 0xE0
	regCtrlHum  byte = 0xF2
	regStatus   byte = 0xF3
	regCtrlMeas byte = 0xF4
	regConfig   byte = 0xF5
	regPress    byte = 0xF7 // burst window 0xF7..0xFE

	regDigT1 byte = 0x88
	regDigT2 byte = 0x8A
	regDigT3 byte = 0x8C
	regDigP1 byte = 0x8E
	regDigP2 byte = 0x90
	regDigP3 byte = 0x92
	regDigP4 byte = 0x94
	regDigP5 byte = 0x96
	regDigP6 byte = 0x98
	regDigP7 byte = 0x9A
	regDigP8 byte = 0x9C
	regDigP9 byte = 0x9E
	regDigH1 byte = 0xA1
	regDigH2 byte = 0xE1
	regDigH3 byte = 0xE3
	regDigH4 byte = 0xE4
	regDigH5 byte = 0xE5 // low nibble shared by H4 and H5
	regDigE6 byte = 0xE6
	regDigH6 byte = 0xE7
)

const (
	statusMeasuring byte = 0x08
	softResetWord   byte = 0xB6
	burstLen             = 8
)

// Oversampling selects how many samples are averaged per conversion.
type Oversampling uint8

const (
	Skip Oversampling = iota
	O1x
	O2x
	O4x
	O8x
	O16x
)

func (o Oversampling) valid() bool { return o <= O16x }

func (o Oversampling) String() string {
	switch o {
	case Skip:
		return "skip"
	case O1x:
		return "1x"
	case O2x:
		return "2x"
	case O4x:
		return "4x"
	case O8x:
		return "8x"
	case O16x:
		return "16x"
	default:
		return "invalid"
	}
}

// Mode is the power mode stored in ctrl_meas[1:0].
type Mode uint8

const (
	Sleep  Mode = 0x0
	Forced Mode = 0x1
	Normal Mode = 0x3
)

func (m Mode) valid() bool { return m == Sleep || m == Forced || m == Normal }

func (m Mode) String() string {
	switch m {
	case Sleep:
		return "sleep"
	case Forced, 0x2: // 01 and 10 both mean forced on the chip
		return "forced"
	case Normal:
		return "normal"
	default:
		return "invalid"
	}
}

// Standby is the inactive period between conversions in normal mode.
type Standby uint8

const (
	S0_5ms Standby = iota
	S62_5ms
	S125ms
	S250ms
	S500ms
	S1000ms
	S10ms
	S20ms
)

func (s Standby) valid() bool { return s <= S20ms }

// Filter is the IIR filter coefficient.
type Filter uint8

const (
	NoFilter Filter = iota
	F2
	F4
	F8
	F16
)

func (f Filter) valid() bool { return f <= F16 }
