package transceiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/justapithecus/radsat/log"
)

// DialTCP connects to a link server, as the ground station does.
func DialTCP(ctx context.Context, addr string, cfg StreamConfig, logger *log.Logger) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, opError("dial", err)
	}
	return NewStream(conn, cfg, logger), nil
}

// Server is the spacecraft end of a TCP link. It accepts one ground
// connection at a time; a new connection replaces the current one. While no
// ground station is connected the receive buffer is empty and transmitted
// frames are lost, as on the real radio.
type Server struct {
	ln     net.Listener
	cfg    StreamConfig
	logger *log.Logger

	mu     sync.Mutex
	cur    *Stream
	closed bool

	wg sync.WaitGroup
}

// ListenTCP starts a link server on addr.
func ListenTCP(addr string, cfg StreamConfig, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, opError("listen", err)
	}
	s := &Server{ln: ln, cfg: cfg.withDefaults(), logger: logger}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Connected reports whether a ground connection is live.
func (s *Server) Connected() bool {
	return s.stream() != nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", map[string]any{"error": err.Error()})
			continue
		}
		st := NewStream(conn, s.cfg, s.logger.With(map[string]any{"peer": conn.RemoteAddr().String()}))

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = st.Close()
			return
		}
		prev := s.cur
		s.cur = st
		s.mu.Unlock()

		if prev != nil {
			_ = prev.Close()
		}
		s.logger.Info("ground station connected", map[string]any{"peer": conn.RemoteAddr().String()})
	}
}

// stream returns the live connection, discarding one that has failed and
// has nothing left to drain.
func (s *Server) stream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	if err := s.cur.Err(); err != nil {
		s.cur.mu.Lock()
		pending := len(s.cur.rx)
		s.cur.mu.Unlock()
		if pending == 0 {
			s.logger.Info("ground station disconnected", map[string]any{"reason": err.Error()})
			_ = s.cur.Close()
			s.cur = nil
			return nil
		}
	}
	return s.cur
}

// RxFrameCount implements Transceiver.
func (s *Server) RxFrameCount(ctx context.Context) (int, error) {
	if err := s.check(ctx, "rx_frame_count"); err != nil {
		return 0, err
	}
	st := s.stream()
	if st == nil {
		return 0, nil
	}
	return st.RxFrameCount(ctx)
}

// GetFrame implements Transceiver.
func (s *Server) GetFrame(ctx context.Context) ([]byte, error) {
	if err := s.check(ctx, "get_frame"); err != nil {
		return nil, err
	}
	st := s.stream()
	if st == nil {
		return nil, ErrRxEmpty
	}
	return st.GetFrame(ctx)
}

// SendFrame implements Transceiver. With no ground station connected the
// frame is accepted and lost.
func (s *Server) SendFrame(ctx context.Context, b []byte) (int, error) {
	if err := s.check(ctx, "send_frame"); err != nil {
		return 0, err
	}
	if err := checkFrame(b); err != nil {
		return 0, opError("send_frame", err)
	}
	st := s.stream()
	if st == nil {
		return s.cfg.TxSlots, nil
	}
	return st.SendFrame(ctx, b)
}

func (s *Server) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return opError(op, ErrClosed)
	}
	return nil
}

// Close stops accepting and closes the current connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cur := s.cur
	s.cur = nil
	s.mu.Unlock()

	err := s.ln.Close()
	s.wg.Wait()
	if cur != nil {
		if cerr := cur.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("transceiver: close server: %w", err)
	}
	return nil
}
