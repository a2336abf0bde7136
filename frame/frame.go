// Package frame implements the radio frame codec.
//
// A frame is a fixed 11-byte little-endian header followed by an encoded
// application message:
//
//	offset  0: preamble   u16  (Preamble)
//	offset  2: crc        u32  (CRC-32/IEEE over bytes [6..6+5+size))
//	offset  6: size       u8   (payload length)
//	offset  7: timestamp  u32  (unix seconds at wrap time)
//	offset 11: payload
//
// Uplink frames are sealed with a repeating-key XOR cipher; Unwrap opens the
// whole buffer before validating the header.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/justapithecus/radsat/pb"
	"github.com/justapithecus/radsat/types"
)

// Frame layout constants.
const (
	// Preamble marks the start of every frame.
	Preamble uint16 = 0x2018
	// TransceiverMaxFrameSize is the largest frame the radio sends or receives.
	TransceiverMaxFrameSize = 235
	// HeaderSize is the length of the fixed header.
	HeaderSize = 11
	// MaxPayloadSize is the largest encoded message that fits one frame.
	MaxPayloadSize = TransceiverMaxFrameSize - HeaderSize

	preambleOffset  = 0
	crcOffset       = 2
	sizeOffset      = 6
	timestampOffset = 7
)

// FrameErrorKind classifies frame codec errors.
type FrameErrorKind int

const (
	// FrameErrorTruncated indicates input shorter than its header claims.
	FrameErrorTruncated FrameErrorKind = iota
	// FrameErrorBadPreamble indicates a preamble mismatch.
	FrameErrorBadPreamble
	// FrameErrorBadCrc indicates a checksum mismatch.
	FrameErrorBadCrc
	// FrameErrorCipher indicates the key could not be obtained.
	FrameErrorCipher
	// FrameErrorDecode indicates the payload failed to decode.
	FrameErrorDecode
	// FrameErrorEncode indicates the message failed to encode.
	FrameErrorEncode
	// FrameErrorTooLarge indicates a payload over MaxPayloadSize.
	FrameErrorTooLarge
)

var kindNames = [...]string{
	FrameErrorTruncated:   "truncated",
	FrameErrorBadPreamble: "bad_preamble",
	FrameErrorBadCrc:      "bad_crc",
	FrameErrorCipher:      "cipher",
	FrameErrorDecode:      "decode",
	FrameErrorEncode:      "encode",
	FrameErrorTooLarge:    "too_large",
}

func (k FrameErrorKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FrameError represents a frame codec error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a frame error anywhere in err's chain.
func KindOf(err error) (FrameErrorKind, bool) {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind, true
	}
	return 0, false
}

// Header is the decoded fixed header.
type Header struct {
	Preamble  uint16 `json:"preamble"`
	CRC       uint32 `json:"crc"`
	Size      uint8  `json:"size"`
	Timestamp uint32 `json:"timestamp"`
}

// Frame is a validated inbound frame.
type Frame struct {
	Header  Header
	Payload []byte
	Message types.Message
}

// Codec wraps and unwraps frames.
// A Codec is safe for concurrent use if its KeySource is.
type Codec struct {
	keys KeySource
	now  func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithKeySource sets the cipher key source. Without one, frames are not
// enciphered.
func WithKeySource(keys KeySource) Option {
	return func(c *Codec) {
		c.keys = keys
	}
}

// WithClock sets the clock used for header timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		keys: StaticKey(nil),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wrap encodes m and frames it. The returned frame is plaintext.
func (c *Codec) Wrap(m types.Message) ([]byte, error) {
	buf := make([]byte, HeaderSize, TransceiverMaxFrameSize)
	buf, err := pb.AppendMessage(buf, m)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorEncode,
			Msg:  "failed to encode message",
			Err:  err,
		}
	}
	return c.finish(buf)
}

// WrapEncoded frames an already encoded message.
func (c *Codec) WrapEncoded(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, &FrameError{
			Kind: FrameErrorEncode,
			Msg:  "empty payload",
		}
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	return c.finish(append(buf, payload...))
}

func (c *Codec) finish(buf []byte) ([]byte, error) {
	size := len(buf) - HeaderSize
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}
	binary.LittleEndian.PutUint16(buf[preambleOffset:], Preamble)
	buf[sizeOffset] = byte(size)
	binary.LittleEndian.PutUint32(buf[timestampOffset:], uint32(c.now().Unix()))
	binary.LittleEndian.PutUint32(buf[crcOffset:], Checksum(buf[sizeOffset:]))
	return buf, nil
}

// Seal enciphers a wrapped frame for uplink. The input is not modified.
func (c *Codec) Seal(frame []byte) ([]byte, error) {
	key, err := c.keys.Key()
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorCipher,
			Msg:  "failed to load cipher key",
			Err:  err,
		}
	}
	out := make([]byte, len(frame))
	xorKeyStream(out, frame, key)
	return out, nil
}

// Unwrap deciphers, validates and decodes an inbound frame.
// Bytes past the declared payload size are ignored. b is not modified.
func (c *Codec) Unwrap(b []byte) (*Frame, error) {
	plain, err := c.Seal(b)
	if err != nil {
		return nil, err
	}
	hdr, err := ParseHeader(plain)
	if err != nil {
		return nil, err
	}
	end := HeaderSize + int(hdr.Size)
	if want := Checksum(plain[sizeOffset:end]); hdr.CRC != want {
		return nil, &FrameError{
			Kind: FrameErrorBadCrc,
			Msg:  fmt.Sprintf("crc 0x%08x does not match computed 0x%08x", hdr.CRC, want),
		}
	}
	payload := plain[HeaderSize:end]
	msg, err := pb.Unmarshal(payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode payload",
			Err:  err,
		}
	}
	return &Frame{Header: hdr, Payload: payload, Message: msg}, nil
}

// ParseHeader reads and bounds-checks the header of a plaintext frame.
// It does not verify the CRC.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &FrameError{
			Kind: FrameErrorTruncated,
			Msg:  fmt.Sprintf("frame of %d bytes is shorter than header", len(b)),
		}
	}
	hdr := Header{
		Preamble:  binary.LittleEndian.Uint16(b[preambleOffset:]),
		CRC:       binary.LittleEndian.Uint32(b[crcOffset:]),
		Size:      b[sizeOffset],
		Timestamp: binary.LittleEndian.Uint32(b[timestampOffset:]),
	}
	if hdr.Preamble != Preamble {
		return Header{}, &FrameError{
			Kind: FrameErrorBadPreamble,
			Msg:  fmt.Sprintf("preamble 0x%04x, want 0x%04x", hdr.Preamble, Preamble),
		}
	}
	if int(hdr.Size) > MaxPayloadSize {
		return Header{}, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", hdr.Size, MaxPayloadSize),
		}
	}
	if len(b) < HeaderSize+int(hdr.Size) {
		return Header{}, &FrameError{
			Kind: FrameErrorTruncated,
			Msg:  fmt.Sprintf("frame of %d bytes is shorter than declared size %d", len(b), HeaderSize+int(hdr.Size)),
		}
	}
	return hdr, nil
}

// Checksum is the frame CRC primitive.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
