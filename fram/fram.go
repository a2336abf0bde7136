// Package fram models the byte-addressable ferroelectric RAM that holds
// persistent link parameters.
package fram

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// DefaultSize is the capacity of the flight FRAM part in bytes.
const DefaultSize = 256 * 1024

// ErrOutOfRange is returned for an access that crosses the end of the device.
var ErrOutOfRange = errors.New("fram: address out of range")

// Device is a byte-addressable persistent memory.
type Device interface {
	ReadAt(addr uint32, buf []byte) error
	WriteAt(addr uint32, data []byte) error
	Size() int
}

// Memory is a volatile Device backed by a byte slice.
// It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemory creates a zero-filled device of the given size.
func NewMemory(size int) *Memory {
	return &Memory{data: make([]byte, size)}
}

// ReadAt copies len(buf) bytes starting at addr.
func (m *Memory) ReadAt(addr uint32, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkRange(addr, len(buf), len(m.data)); err != nil {
		return err
	}
	copy(buf, m.data[addr:])
	return nil
}

// WriteAt stores data starting at addr.
func (m *Memory) WriteAt(addr uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(addr, len(data), len(m.data)); err != nil {
		return err
	}
	copy(m.data[addr:], data)
	return nil
}

// Size returns the device capacity.
func (m *Memory) Size() int {
	return len(m.data)
}

// File is a Device persisted to an image file on the host.
// Writes are held in memory until Sync.
type File struct {
	*Memory
	path string
}

// OpenFile loads an image file, creating a zero-filled one of the given
// size if it does not exist. An existing image keeps its own size.
func OpenFile(path string, size int) (*File, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = make([]byte, size)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("fram: create image: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("fram: read image: %w", err)
	}
	return &File{Memory: &Memory{data: data}, path: path}, nil
}

// Sync writes the image back to disk.
func (f *File) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.WriteFile(f.path, f.data, 0o600); err != nil {
		return fmt.Errorf("fram: write image: %w", err)
	}
	return nil
}

// Close syncs the image.
func (f *File) Close() error {
	return f.Sync()
}

func checkRange(addr uint32, n, size int) error {
	if uint64(addr)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: [%d, %d) on %d byte device", ErrOutOfRange, addr, uint64(addr)+uint64(n), size)
	}
	return nil
}
