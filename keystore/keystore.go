// Package keystore keeps the link cipher key in FRAM as three redundant
// copies and reads it back by majority vote.
package keystore

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/radsat/fram"
)

// Default layout: three copies spaced one page apart at the top of FRAM.
const (
	DefaultKeySize = 16
	DefaultBase    = 0x3f000
	DefaultStride  = 0x100
)

// ErrNoMajority is returned when no two copies agree.
var ErrNoMajority = errors.New("keystore: no two key copies agree")

// Store reads and repairs the redundant key copies.
// It implements frame.KeySource and is safe for concurrent use.
type Store struct {
	dev   fram.Device
	addrs [3]uint32
	size  int

	mu     sync.Mutex
	healed int
}

// Layout places the three copies.
type Layout struct {
	Addrs   [3]uint32
	KeySize int
}

// DefaultLayout returns the flight layout.
func DefaultLayout() Layout {
	return Layout{
		Addrs:   [3]uint32{DefaultBase, DefaultBase + DefaultStride, DefaultBase + 2*DefaultStride},
		KeySize: DefaultKeySize,
	}
}

// New creates a store over dev.
func New(dev fram.Device, layout Layout) (*Store, error) {
	if layout.KeySize <= 0 {
		return nil, fmt.Errorf("keystore: key size must be positive, got %d", layout.KeySize)
	}
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			lo, hi := layout.Addrs[i], layout.Addrs[j]
			if lo > hi {
				lo, hi = hi, lo
			}
			if uint64(hi)-uint64(lo) < uint64(layout.KeySize) {
				return nil, fmt.Errorf("keystore: copies %d and %d overlap", i, j)
			}
		}
	}
	return &Store{dev: dev, addrs: layout.Addrs, size: layout.KeySize}, nil
}

// Key returns the majority key. A copy that disagrees with the other two is
// rewritten with the majority value.
func (s *Store) Key() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var copies [3][]byte
	for i, addr := range s.addrs {
		buf := make([]byte, s.size)
		if err := s.dev.ReadAt(addr, buf); err != nil {
			return nil, fmt.Errorf("keystore: read copy %d: %w", i, err)
		}
		copies[i] = buf
	}

	winner, minority := vote(copies)
	if winner < 0 {
		return nil, ErrNoMajority
	}
	if minority >= 0 {
		if err := s.dev.WriteAt(s.addrs[minority], copies[winner]); err != nil {
			return nil, fmt.Errorf("keystore: repair copy %d: %w", minority, err)
		}
		s.healed++
	}
	return copies[winner], nil
}

// Provision writes key to all three copies.
func (s *Store) Provision(key []byte) error {
	if len(key) != s.size {
		return fmt.Errorf("keystore: key is %d bytes, want %d", len(key), s.size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, addr := range s.addrs {
		if err := s.dev.WriteAt(addr, key); err != nil {
			return fmt.Errorf("keystore: write copy %d: %w", i, err)
		}
	}
	return nil
}

// Repairs returns how many minority copies have been rewritten.
func (s *Store) Repairs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healed
}

// vote returns the index of a majority copy and the index of the
// disagreeing copy, -1 when all agree. winner is -1 without a majority.
func vote(c [3][]byte) (winner, minority int) {
	ab := bytes.Equal(c[0], c[1])
	ac := bytes.Equal(c[0], c[2])
	bc := bytes.Equal(c[1], c[2])
	switch {
	case ab && ac:
		return 0, -1
	case ab:
		return 0, 2
	case ac:
		return 0, 1
	case bc:
		return 1, 0
	default:
		return -1, -1
	}
}
