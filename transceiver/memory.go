package transceiver

import (
	"context"
	"sync"
)

// Memory is an in-process transceiver. Received frames are injected with
// InjectRx; transmitted frames accumulate until TakeSent frees their slots.
type Memory struct {
	mu      sync.Mutex
	rxSlots int
	txSlots int
	rx      [][]byte
	outbox  [][]byte
	sent    [][]byte
	dropped int
	fault   error
	closed  bool
}

// NewMemory creates a memory transceiver with the given buffer sizes.
// Non-positive sizes select the defaults.
func NewMemory(rxSlots, txSlots int) *Memory {
	if rxSlots <= 0 {
		rxSlots = DefaultRxSlots
	}
	if txSlots <= 0 {
		txSlots = DefaultTxSlots
	}
	return &Memory{rxSlots: rxSlots, txSlots: txSlots}
}

// InjectRx places a frame in the receive buffer as if it arrived over the
// air. When the buffer is full the oldest frame is dropped and InjectRx
// returns true.
func (m *Memory) InjectRx(b []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := false
	if len(m.rx) >= m.rxSlots {
		m.rx = m.rx[1:]
		m.dropped++
		dropped = true
	}
	m.rx = append(m.rx, clone(b))
	return dropped
}

// SetFault makes every operation fail with err until cleared with nil.
func (m *Memory) SetFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

// Sent returns copies of every frame transmitted so far.
func (m *Memory) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, b := range m.sent {
		out[i] = clone(b)
	}
	return out
}

// TakeSent returns the frames waiting in the transmit buffer and frees
// their slots.
func (m *Memory) TakeSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.outbox
	m.outbox = nil
	return out
}

// Dropped returns the number of received frames lost to a full buffer.
func (m *Memory) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Memory) check(op string) error {
	if m.closed {
		return opError(op, ErrClosed)
	}
	if m.fault != nil {
		return opError(op, m.fault)
	}
	return nil
}

// RxFrameCount implements Transceiver.
func (m *Memory) RxFrameCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("rx_frame_count"); err != nil {
		return 0, err
	}
	return len(m.rx), nil
}

// GetFrame implements Transceiver.
func (m *Memory) GetFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("get_frame"); err != nil {
		return nil, err
	}
	if len(m.rx) == 0 {
		return nil, ErrRxEmpty
	}
	b := m.rx[0]
	m.rx = m.rx[1:]
	return b, nil
}

// SendFrame implements Transceiver.
func (m *Memory) SendFrame(ctx context.Context, b []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkFrame(b); err != nil {
		return 0, opError("send_frame", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("send_frame"); err != nil {
		return 0, err
	}
	if len(m.outbox) >= m.txSlots {
		return 0, opError("send_frame", ErrTxBufferFull)
	}
	m.outbox = append(m.outbox, clone(b))
	m.sent = append(m.sent, clone(b))
	return m.txSlots - len(m.outbox), nil
}

// Close implements Transceiver.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
