package bme280

import (
	"context"
	"encoding/binary"
	"time"

	"periph.io/x/conn/v3"
)

// regIO is the register-level view of the device handle. It knows nothing
// about the sensor; every method is one bus transaction bounded by timeout.
type regIO struct {
	c       conn.Conn
	timeout time.Duration
}

func (r *regIO) readByte(ctx context.Context, reg byte) (byte, error) {
	var b [1]byte
	if err := r.tx(ctx, "read", reg, []byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readWord returns the little-endian word at reg, reg+1.
func (r *regIO) readWord(ctx context.Context, reg byte) (uint16, error) {
	var b [2]byte
	if err := r.tx(ctx, "read word", reg, []byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (r *regIO) writeByte(ctx context.Context, reg, v byte) error {
	return r.tx(ctx, "write", reg, []byte{reg, v}, nil)
}

// burstRead selects reg once and reads burstLen contiguous registers in the
// same transaction, so the chip serves them from one shadow snapshot.
func (r *regIO) burstRead(ctx context.Context, reg byte) ([burstLen]byte, error) {
	var b [burstLen]byte
	err := r.tx(ctx, "burst read", reg, []byte{reg}, b[:])
	return b, err
}

// tx runs c.Tx on its own goroutine so a wedged bus cannot block the caller
// past timeout. The read buffer is private to the goroutine until Tx returns.
func (r *regIO) tx(ctx context.Context, op string, reg byte, w, read []byte) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Reg: reg, Err: err}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.timeout, ErrBusTimeout)
		defer cancel()
	}

	buf := make([]byte, len(read))
	done := make(chan error, 1)
	go func() {
		done <- r.c.Tx(w, buf)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &TransportError{Op: op, Reg: reg, Err: err}
		}
		copy(read, buf)
		return nil
	case <-ctx.Done():
		return &TransportError{Op: op, Reg: reg, Err: context.Cause(ctx)}
	}
}
