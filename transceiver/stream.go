package transceiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/radsat/ipc"
	"github.com/justapithecus/radsat/log"
)

// StreamConfig sizes the buffers of a Stream.
type StreamConfig struct {
	// RxSlots bounds the receive buffer. The oldest frame is dropped when a
	// new one arrives on a full buffer.
	RxSlots int
	// TxSlots bounds the transmit buffer.
	TxSlots int
	// Bitrate paces transmission in bits per second. Zero disables pacing.
	Bitrate int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.RxSlots <= 0 {
		c.RxSlots = DefaultRxSlots
	}
	if c.TxSlots <= 0 {
		c.TxSlots = DefaultTxSlots
	}
	if c.Bitrate < 0 {
		c.Bitrate = 0
	}
	return c
}

// Airtime returns how long n bytes take to transmit at bitrate.
func Airtime(n, bitrate int) time.Duration {
	if bitrate <= 0 {
		return 0
	}
	return time.Duration(n*8) * time.Second / time.Duration(bitrate)
}

// Stream is a Transceiver over a byte stream. A reader goroutine fills the
// receive buffer and a writer goroutine drains the transmit buffer.
type Stream struct {
	rwc    io.ReadWriteCloser
	cfg    StreamConfig
	logger *log.Logger

	mu      sync.Mutex
	rx      [][]byte
	dropped int
	err     error

	tx        chan []byte
	seq       atomic.Uint32
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewStream starts a Stream over rwc. The stream owns rwc and closes it on
// Close or on the first fatal link error.
func NewStream(rwc io.ReadWriteCloser, cfg StreamConfig, logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Stream{
		rwc:    rwc,
		cfg:    cfg,
		logger: logger,
		tx:     make(chan []byte, cfg.TxSlots),
		done:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *Stream) readLoop() {
	defer s.wg.Done()
	dec := ipc.NewFrameDecoder(s.rwc)
	for {
		p, err := dec.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) && !ipc.IsFatalFrameError(err) {
				s.logger.Warn("discarding undecodable packet", map[string]any{"error": err.Error()})
				continue
			}
			s.fail(err)
			return
		}
		switch p.Type {
		case ipc.PacketFrame:
			if err := checkFrame(p.Data); err != nil {
				s.logger.Warn("discarding received frame", map[string]any{
					"seq":   p.Seq,
					"error": err.Error(),
				})
				continue
			}
			s.push(p.Data)
		case ipc.PacketPing:
		default:
			s.logger.Debug("ignoring packet", map[string]any{"type": p.Type, "seq": p.Seq})
		}
	}
}

func (s *Stream) push(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) >= s.cfg.RxSlots {
		s.rx = s.rx[1:]
		s.dropped++
		s.logger.Warn("receive buffer full, dropped oldest frame", map[string]any{"dropped": s.dropped})
	}
	s.rx = append(s.rx, b)
}

func (s *Stream) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case b := <-s.tx:
			p := &ipc.Packet{Type: ipc.PacketFrame, Seq: s.seq.Add(1), Data: b}
			if err := ipc.WritePacket(s.rwc, p); err != nil {
				s.fail(err)
				return
			}
			if !s.pace(len(b)) {
				return
			}
		}
	}
}

// pace holds the writer for the airtime of n bytes. It returns false if the
// stream closed meanwhile.
func (s *Stream) pace(n int) bool {
	d := Airtime(n, s.cfg.Bitrate)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}

// fail records the first link error and shuts the stream down.
func (s *Stream) fail(cause error) {
	s.mu.Lock()
	if s.err == nil {
		if errors.Is(cause, ErrClosed) {
			s.err = ErrClosed
		} else {
			s.err = fmt.Errorf("%w: %w", ErrClosed, cause)
		}
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.rwc.Close()
	})
}

// Err returns the error that stopped the stream, or nil while it is live.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns the number of received frames lost to a full buffer.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// RxFrameCount implements Transceiver. Frames received before a link
// failure can still be drained.
func (s *Stream) RxFrameCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 && s.err != nil {
		return 0, opError("rx_frame_count", s.err)
	}
	return len(s.rx), nil
}

// GetFrame implements Transceiver.
func (s *Stream) GetFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		if s.err != nil {
			return nil, opError("get_frame", s.err)
		}
		return nil, ErrRxEmpty
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b, nil
}

// SendFrame implements Transceiver. It never blocks: a full transmit
// buffer fails with ErrTxBufferFull.
func (s *Stream) SendFrame(ctx context.Context, b []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkFrame(b); err != nil {
		return 0, opError("send_frame", err)
	}
	if err := s.Err(); err != nil {
		return 0, opError("send_frame", err)
	}
	select {
	case s.tx <- clone(b):
		return cap(s.tx) - len(s.tx), nil
	default:
		return 0, opError("send_frame", ErrTxBufferFull)
	}
}

// Close stops the stream and closes the underlying connection. Frames still
// in the transmit buffer are discarded.
func (s *Stream) Close() error {
	s.fail(ErrClosed)
	s.wg.Wait()
	if s.closeErr != nil && !errors.Is(s.closeErr, io.ErrClosedPipe) {
		return s.closeErr
	}
	return nil
}
