package bme280

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedIdentity = errors.New("bme280: unexpected chip identity")
	ErrMeasurementTimeout = errors.New("bme280: measurement did not complete")
	ErrBusTimeout         = errors.New("bme280: bus transaction timed out")
	ErrNotInitialized     = errors.New("bme280: device not initialized")
	ErrInvalidSetting     = errors.New("bme280: invalid setting")
)

// TransportError reports a failed bus transaction. The driver never retries
// it; the caller decides whether to re-run Init.
type TransportError struct {
	Op  string
	Reg byte
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bme280: %s 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
