// Package filetransfer queues pre-wrapped downlink frames.
//
// The queue holds one "current" frame, the one most recently handed to the
// transmitter, plus up to capacity-1 frames waiting behind it. The current
// frame stays available for retransmission until the next frame is taken.
package filetransfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/pb"
	"github.com/justapithecus/radsat/types"
)

// DefaultMaxFrameCount is the default queue capacity including the current slot.
const DefaultMaxFrameCount = 64

var (
	// ErrNilMessage is returned for a nil message buffer.
	ErrNilMessage = errors.New("filetransfer: nil message")
	// ErrInvalidSize is returned for an empty or oversized message.
	ErrInvalidSize = errors.New("filetransfer: invalid message size")
	// ErrCursorOverflow is returned when every slot is occupied.
	ErrCursorOverflow = errors.New("filetransfer: queue full")
	// ErrMessageWrapping is returned when the envelope cannot be framed.
	ErrMessageWrapping = errors.New("filetransfer: message wrapping failed")
)

// Queue is a bounded FIFO of wrapped frames. It is safe for concurrent use.
type Queue struct {
	codec *frame.Codec

	mu      sync.Mutex
	ring    [][]byte
	head    int
	count   int
	current []byte
}

// NewQueue creates a queue of the given capacity (at least 2).
func NewQueue(codec *frame.Codec, capacity int) (*Queue, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("filetransfer: capacity must be at least 2, got %d", capacity)
	}
	return &Queue{
		codec: codec,
		ring:  make([][]byte, capacity-1),
	}, nil
}

// AddMessage frames an encoded file transfer body under tag and queues it.
func (q *Queue) AddMessage(raw []byte, tag types.FileTransferTag) error {
	if raw == nil {
		return ErrNilMessage
	}
	if len(raw) == 0 || len(raw) > pb.FileTransferPayloadSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrInvalidSize, len(raw), pb.FileTransferPayloadSize)
	}
	return q.enqueue(raw, tag)
}

// Add encodes body and queues it. Unlike AddMessage it accepts a body whose
// fields are all zero, which encodes to an empty embedded message.
func (q *Queue) Add(body types.FileTransferBody) error {
	if body == nil {
		return ErrNilMessage
	}
	raw, err := pb.MarshalFileTransferBody(body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMessageWrapping, err)
	}
	return q.enqueue(raw, body.FileTransferTag())
}

func (q *Queue) enqueue(raw []byte, tag types.FileTransferTag) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.ring) {
		return ErrCursorOverflow
	}
	env, err := pb.AppendFileTransferRaw(make([]byte, 0, pb.RadsatMessageSize), tag, raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMessageWrapping, err)
	}
	wrapped, err := q.codec.WrapEncoded(env)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMessageWrapping, err)
	}
	q.ring[(q.head+q.count)%len(q.ring)] = wrapped
	q.count++
	return nil
}

// NextFrame retires the current frame and promotes the next one.
// It returns nil, leaving the current frame in place, when nothing is queued.
func (q *Queue) NextFrame() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	q.current = q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return clone(q.current)
}

// CurrentFrame returns the current frame without advancing, or nil.
func (q *Queue) CurrentFrame() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return clone(q.current)
}

// Len returns the number of frames waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Capacity returns the total slot count including the current slot.
func (q *Queue) Capacity() int {
	return len(q.ring) + 1
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
