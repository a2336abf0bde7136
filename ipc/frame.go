// Package ipc implements packet framing for the simulated radio link.
//
// A link stream carries packets, each a 4-byte big-endian length prefix
// followed by a msgpack-encoded Packet. The same framing is used over TCP
// (software in the loop) and serial lines (hardware in the loop).
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Size constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxPacketSize is the maximum encoded packet size, excluding the prefix.
	// A packet carries at most one radio frame plus a small envelope.
	MaxPacketSize = 1024
	// MaxDataSize is the largest Data field accepted by the encoder.
	MaxDataSize = 512
)

// Packet types.
const (
	// PacketFrame carries one radio frame in Data.
	PacketFrame = "frame"
	// PacketPing is a keepalive with no data.
	PacketPing = "ping"
)

// Packet is one unit on the link.
type Packet struct {
	Type string `msgpack:"type"`
	Seq  uint32 `msgpack:"seq"`
	Data []byte `msgpack:"data,omitempty"`
}

// FrameErrorKind classifies packet decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete packet.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a packet exceeding MaxPacketSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a packet decoding error.
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

// IsFatal returns true if the stream cannot continue after this error.
// Partial and oversized packets desynchronize the length prefix.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal packet error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed packets from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new packet decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads the raw msgpack bytes of a single packet.
//
// Errors:
//   - io.EOF: stream ended cleanly
//   - *FrameError with Kind=FrameErrorPartial: incomplete packet (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: packet exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPacketSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("packet size %d exceeds maximum %d", size, MaxPacketSize),
		}
	}

	payload := make([]byte, size)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read packet",
			Err:  err,
		}
	}
	return payload, nil
}

// ReadPacket reads and decodes the next packet.
func (d *FrameDecoder) ReadPacket() (*Packet, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodePacket(payload)
}

// DecodePacket decodes msgpack bytes as a Packet.
func DecodePacket(payload []byte) (*Packet, error) {
	var p Packet
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode packet",
			Err:  err,
		}
	}
	if p.Type == "" {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "packet has no type"}
	}
	return &p, nil
}

// EncodePacket returns the length-prefixed encoding of p.
func EncodePacket(p *Packet) ([]byte, error) {
	if len(p.Data) > MaxDataSize {
		return nil, fmt.Errorf("ipc: packet data %d bytes exceeds maximum %d", len(p.Data), MaxDataSize)
	}
	payload, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode packet: %w", err)
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf, nil
}

// WritePacket encodes p and writes it to w in a single Write call.
func WritePacket(w io.Writer, p *Packet) error {
	buf, err := EncodePacket(p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
