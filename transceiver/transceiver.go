// Package transceiver provides the radio link used by the communication
// tasks.
//
// A Transceiver exposes the narrow surface of the flight radio: a receive
// buffer that is polled for a frame count and drained one frame at a time,
// and a transmit buffer that reports its remaining slots after every send.
// Memory is an in-process radio for tests. Stream carries frames over any
// byte stream using ipc packet framing, and backs the TCP (software in the
// loop) and serial (hardware in the loop) links.
package transceiver

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/radsat/frame"
)

// Buffer defaults match the flight radio.
const (
	DefaultRxSlots = 40
	DefaultTxSlots = 40
	// DefaultBitrate is the downlink rate in bits per second.
	DefaultBitrate = 9600
)

// Sentinel errors.
var (
	// ErrRxEmpty is returned by GetFrame when the receive buffer is empty.
	ErrRxEmpty = errors.New("transceiver: receive buffer empty")
	// ErrTxBufferFull is returned by SendFrame when no transmit slot is free.
	ErrTxBufferFull = errors.New("transceiver: transmit buffer full")
	// ErrClosed is returned after Close or after the link has failed.
	ErrClosed = errors.New("transceiver: closed")
	// ErrFrameSize is returned for frames that are empty or exceed the radio
	// frame size.
	ErrFrameSize = errors.New("transceiver: invalid frame size")
)

// Transceiver is the radio surface used by the Rx and Tx tasks.
type Transceiver interface {
	// RxFrameCount returns the number of frames waiting in the receive buffer.
	RxFrameCount(ctx context.Context) (int, error)
	// GetFrame removes and returns the oldest received frame.
	GetFrame(ctx context.Context) ([]byte, error)
	// SendFrame queues a frame for transmission and returns the number of
	// transmit slots still free.
	SendFrame(ctx context.Context, frame []byte) (remaining int, err error)
	// Close releases the link.
	Close() error
}

// TransceiverError wraps a failed transceiver operation.
type TransceiverError struct {
	Op  string
	Err error
}

func (e *TransceiverError) Error() string {
	return fmt.Sprintf("transceiver %s: %v", e.Op, e.Err)
}

func (e *TransceiverError) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	return &TransceiverError{Op: op, Err: err}
}

func checkFrame(b []byte) error {
	if len(b) == 0 || len(b) > frame.TransceiverMaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameSize, len(b))
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
