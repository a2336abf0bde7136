package pb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/justapithecus/radsat/types"
)

// Sentinel errors for encoding and decoding.
var (
	// ErrNilMessage is returned when a nil message or body is encoded.
	ErrNilMessage = errors.New("pb: nil message")
	// ErrTooLarge is returned when a field exceeds its schema bound.
	ErrTooLarge = errors.New("pb: field exceeds size bound")
	// ErrTruncated is returned when the input ends inside a field.
	ErrTruncated = errors.New("pb: truncated input")
	// ErrMalformed is returned for invalid keys, wire types, or values.
	ErrMalformed = errors.New("pb: malformed input")
	// ErrUnknownTag is returned when a union discriminant is not in the schema.
	ErrUnknownTag = errors.New("pb: unknown union tag")
	// ErrEmpty is returned when a union has no member set.
	ErrEmpty = errors.New("pb: no union member set")
)

// Marshal encodes m into a new buffer.
func Marshal(m types.Message) ([]byte, error) {
	return AppendMessage(make([]byte, 0, RadsatMessageSize), m)
}

// AppendMessage appends the encoding of m to b.
func AppendMessage(b []byte, m types.Message) ([]byte, error) {
	var (
		inner []byte
		err   error
	)
	switch msg := m.(type) {
	case *types.ProtocolMessage:
		if msg == nil {
			return b, ErrNilMessage
		}
		inner, err = appendProtocol(nil, msg.Body)
	case *types.TelecommandMessage:
		if msg == nil {
			return b, ErrNilMessage
		}
		inner, err = appendTelecommand(nil, msg.Body)
	case *types.FileTransferMessage:
		if msg == nil {
			return b, ErrNilMessage
		}
		inner, err = appendFileTransfer(nil, msg.Body)
	case nil:
		return b, ErrNilMessage
	default:
		return b, fmt.Errorf("%w: %T", ErrUnknownTag, m)
	}
	if err != nil {
		return b, err
	}
	return appendEmbedded(b, protowire.Number(m.Service()), inner), nil
}

// MarshalFileTransferBody encodes a downlink body without its envelope.
// The result is what the file transfer service splices under a message tag.
func MarshalFileTransferBody(body types.FileTransferBody) ([]byte, error) {
	if body == nil {
		return nil, ErrNilMessage
	}
	return appendFileTransferBody(make([]byte, 0, FileTransferPayloadSize), body)
}

// AppendFileTransferRaw appends a complete file transfer message whose body
// is already encoded. raw is placed verbatim under tag.
func AppendFileTransferRaw(b []byte, tag types.FileTransferTag, raw []byte) ([]byte, error) {
	if !tag.Valid() {
		return b, fmt.Errorf("%w: file transfer tag %d", ErrUnknownTag, tag)
	}
	if len(raw) > FileTransferPayloadSize {
		return b, fmt.Errorf("%w: body %d bytes, max %d", ErrTooLarge, len(raw), FileTransferPayloadSize)
	}
	inner := appendEmbedded(make([]byte, 0, len(raw)+embeddedFixed), protowire.Number(tag), raw)
	return appendEmbedded(b, protowire.Number(types.ServiceFileTransfer), inner), nil
}

func appendProtocol(b []byte, body types.ProtocolBody) ([]byte, error) {
	var resp uint32
	switch v := body.(type) {
	case types.Ack:
		resp = v.Resp
	case types.Nack:
		resp = v.Resp
	case nil:
		return b, ErrNilMessage
	default:
		return b, fmt.Errorf("%w: %T", ErrUnknownTag, body)
	}
	inner := appendUint32(nil, 1, resp)
	return appendEmbedded(b, protowire.Number(body.ProtocolTag()), inner), nil
}

func appendTelecommand(b []byte, body types.TelecommandBody) ([]byte, error) {
	var inner []byte
	switch v := body.(type) {
	case types.BeginPass:
		inner = appendUint32(inner, 1, v.PassLength)
	case types.BeginFileTransfer:
		inner = appendUint32(inner, 1, v.Resp)
	case types.CeaseTransmission:
		inner = appendUint32(inner, 1, v.Duration)
	case types.UpdateTime:
		inner = appendUint64(inner, 1, v.UnixTime)
	case types.Reset:
		inner = appendUint32(inner, 1, v.Device)
		inner = appendBool(inner, 2, v.Hard)
	case types.ResumeTransmission:
	case nil:
		return b, ErrNilMessage
	default:
		return b, fmt.Errorf("%w: %T", ErrUnknownTag, body)
	}
	return appendEmbedded(b, protowire.Number(body.TelecommandTag()), inner), nil
}

func appendFileTransfer(b []byte, body types.FileTransferBody) ([]byte, error) {
	if body == nil {
		return b, ErrNilMessage
	}
	inner, err := appendFileTransferBody(nil, body)
	if err != nil {
		return b, err
	}
	return appendEmbedded(b, protowire.Number(body.FileTransferTag()), inner), nil
}

func appendFileTransferBody(b []byte, body types.FileTransferBody) ([]byte, error) {
	switch v := body.(type) {
	case types.ObcTelemetry:
		b = appendUint32(b, 1, v.Mode)
		b = appendUint32(b, 2, v.Uptime)
		b = appendUint64(b, 3, v.RtcTime)
		b = appendSint32(b, 4, v.RtcTemperature)
		b = appendUint32(b, 5, v.BootCount)
		b = appendUint32(b, 6, v.LastResetCause)
	case types.TransceiverTelemetry:
		b = appendUint32(b, 1, v.Uptime)
		b = appendUint32(b, 2, v.RxFrames)
		b = appendUint32(b, 3, v.TxFrames)
		b = appendSint32(b, 4, v.Rssi)
		b = appendSint32(b, 5, v.Temperature)
		b = appendUint32(b, 6, v.Voltage)
	case types.CameraTelemetry:
		b = appendUint32(b, 1, v.Uptime)
		b = appendSint32(b, 2, v.Temperature)
		b = appendUint32(b, 3, v.Current)
		b = appendUint32(b, 4, v.ImagesCaptured)
	case types.EpsTelemetry:
		b = appendUint32(b, 1, v.Uptime)
		b = appendUint32(b, 2, v.BusVoltage)
		b = appendUint32(b, 3, v.BusCurrent)
		b = appendSint32(b, 4, v.Temperature)
		b = appendUint32(b, 5, v.OutputStatus)
	case types.BatteryTelemetry:
		b = appendUint32(b, 1, v.Voltage)
		b = appendSint32(b, 2, v.Current)
		b = appendSint32(b, 3, v.Temperature)
		b = appendUint32(b, 4, v.Charge)
	case types.AntennaTelemetry:
		b = appendUint32(b, 1, v.DeployedMask)
		b = appendSint32(b, 2, v.SideATemperature)
		b = appendSint32(b, 3, v.SideBTemperature)
		b = appendBool(b, 4, v.ArmedA)
		b = appendBool(b, 5, v.ArmedB)
	case types.DosimeterData:
		if len(v.Readings) > MaxDosimeterReadings {
			return b, fmt.Errorf("%w: %d dosimeter readings, max %d", ErrTooLarge, len(v.Readings), MaxDosimeterReadings)
		}
		if len(v.Readings) > 0 {
			var packed []byte
			for _, r := range v.Readings {
				packed = protowire.AppendVarint(packed, uint64(r))
			}
			b = appendEmbedded(b, 1, packed)
		}
	case types.ImagePacket:
		if len(v.Data) > MaxImageDataSize {
			return b, fmt.Errorf("%w: image data %d bytes, max %d", ErrTooLarge, len(v.Data), MaxImageDataSize)
		}
		b = appendUint32(b, 1, v.ID)
		b = appendUint32(b, 2, v.Type)
		if len(v.Data) > 0 {
			b = appendEmbedded(b, 3, v.Data)
		}
	case types.ModuleErrorReport:
		b = appendUint32(b, 1, v.ModuleID)
		b = appendSint32(b, 2, v.Error)
	case types.ComponentErrorReport:
		b = appendUint32(b, 1, v.ComponentID)
		b = appendSint32(b, 2, v.Error)
	default:
		return b, fmt.Errorf("%w: %T", ErrUnknownTag, body)
	}
	return b, nil
}

// appendEmbedded writes a length-delimited field. Embedded messages are
// always written, even when empty, because their presence is the union tag.
func appendEmbedded(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}
