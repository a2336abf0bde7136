package pb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/justapithecus/radsat/types"
)

// Unmarshal decodes a top-level message.
//
// Unknown scalar fields are skipped per protobuf rules. Unknown union tags,
// wire-type mismatches and truncated input are errors; no read goes past b.
func Unmarshal(b []byte) (types.Message, error) {
	var msg types.Message
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		inner, n, err := consumeEmbedded(typ, v)
		if err != nil {
			return 0, err
		}
		switch types.ServiceTag(num) {
		case types.ServiceProtocol:
			body, err := unmarshalProtocol(inner)
			if err != nil {
				return 0, err
			}
			msg = &types.ProtocolMessage{Body: body}
		case types.ServiceTelecommand:
			body, err := unmarshalTelecommand(inner)
			if err != nil {
				return 0, err
			}
			msg = &types.TelecommandMessage{Body: body}
		case types.ServiceFileTransfer:
			body, err := unmarshalFileTransfer(inner)
			if err != nil {
				return 0, err
			}
			msg = &types.FileTransferMessage{Body: body}
		default:
			return 0, fmt.Errorf("%w: service %d", ErrUnknownTag, num)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: service", ErrEmpty)
	}
	return msg, nil
}

// UnmarshalFileTransferBody decodes a downlink body stored under tag.
func UnmarshalFileTransferBody(tag types.FileTransferTag, b []byte) (types.FileTransferBody, error) {
	return decodeFileTransferBody(tag, b)
}

func unmarshalProtocol(b []byte) (types.ProtocolBody, error) {
	var body types.ProtocolBody
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		inner, n, err := consumeEmbedded(typ, v)
		if err != nil {
			return 0, err
		}
		var resp uint32
		err = walk(inner, func(f protowire.Number, ft protowire.Type, fv []byte) (int, error) {
			if f == 1 {
				return consumeUint32(ft, fv, &resp)
			}
			return 0, nil
		})
		if err != nil {
			return 0, err
		}
		switch types.ProtocolTag(num) {
		case types.ProtocolAck:
			body = types.Ack{Resp: resp}
		case types.ProtocolNack:
			body = types.Nack{Resp: resp}
		default:
			return 0, fmt.Errorf("%w: protocol %d", ErrUnknownTag, num)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("%w: protocol", ErrEmpty)
	}
	return body, nil
}

func unmarshalTelecommand(b []byte) (types.TelecommandBody, error) {
	var body types.TelecommandBody
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		inner, n, err := consumeEmbedded(typ, v)
		if err != nil {
			return 0, err
		}
		decoded, err := decodeTelecommandBody(types.TelecommandTag(num), inner)
		if err != nil {
			return 0, err
		}
		body = decoded
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("%w: telecommand", ErrEmpty)
	}
	return body, nil
}

func decodeTelecommandBody(tag types.TelecommandTag, b []byte) (types.TelecommandBody, error) {
	switch tag {
	case types.TelecommandBeginPass:
		var v types.BeginPass
		err := walk(b, fields{1: u32(&v.PassLength)}.visit)
		return v, err
	case types.TelecommandBeginFileTransfer:
		var v types.BeginFileTransfer
		err := walk(b, fields{1: u32(&v.Resp)}.visit)
		return v, err
	case types.TelecommandCeaseTransmission:
		var v types.CeaseTransmission
		err := walk(b, fields{1: u32(&v.Duration)}.visit)
		return v, err
	case types.TelecommandUpdateTime:
		var v types.UpdateTime
		err := walk(b, fields{1: u64(&v.UnixTime)}.visit)
		return v, err
	case types.TelecommandReset:
		var v types.Reset
		err := walk(b, fields{1: u32(&v.Device), 2: boolean(&v.Hard)}.visit)
		return v, err
	case types.TelecommandResumeTransmission:
		err := walk(b, fields{}.visit)
		return types.ResumeTransmission{}, err
	default:
		return nil, fmt.Errorf("%w: telecommand %d", ErrUnknownTag, tag)
	}
}

func unmarshalFileTransfer(b []byte) (types.FileTransferBody, error) {
	var body types.FileTransferBody
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		inner, n, err := consumeEmbedded(typ, v)
		if err != nil {
			return 0, err
		}
		decoded, err := decodeFileTransferBody(types.FileTransferTag(num), inner)
		if err != nil {
			return 0, err
		}
		body = decoded
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("%w: file transfer", ErrEmpty)
	}
	return body, nil
}

func decodeFileTransferBody(tag types.FileTransferTag, b []byte) (types.FileTransferBody, error) {
	if !tag.Valid() {
		return nil, fmt.Errorf("%w: file transfer %d", ErrUnknownTag, tag)
	}
	switch tag {
	case types.FileTransferObcTelemetry:
		var v types.ObcTelemetry
		err := walk(b, fields{
			1: u32(&v.Mode), 2: u32(&v.Uptime), 3: u64(&v.RtcTime),
			4: s32(&v.RtcTemperature), 5: u32(&v.BootCount), 6: u32(&v.LastResetCause),
		}.visit)
		return v, err
	case types.FileTransferTransceiverTelemetry:
		var v types.TransceiverTelemetry
		err := walk(b, fields{
			1: u32(&v.Uptime), 2: u32(&v.RxFrames), 3: u32(&v.TxFrames),
			4: s32(&v.Rssi), 5: s32(&v.Temperature), 6: u32(&v.Voltage),
		}.visit)
		return v, err
	case types.FileTransferCameraTelemetry:
		var v types.CameraTelemetry
		err := walk(b, fields{
			1: u32(&v.Uptime), 2: s32(&v.Temperature), 3: u32(&v.Current), 4: u32(&v.ImagesCaptured),
		}.visit)
		return v, err
	case types.FileTransferEpsTelemetry:
		var v types.EpsTelemetry
		err := walk(b, fields{
			1: u32(&v.Uptime), 2: u32(&v.BusVoltage), 3: u32(&v.BusCurrent),
			4: s32(&v.Temperature), 5: u32(&v.OutputStatus),
		}.visit)
		return v, err
	case types.FileTransferBatteryTelemetry:
		var v types.BatteryTelemetry
		err := walk(b, fields{
			1: u32(&v.Voltage), 2: s32(&v.Current), 3: s32(&v.Temperature), 4: u32(&v.Charge),
		}.visit)
		return v, err
	case types.FileTransferAntennaTelemetry:
		var v types.AntennaTelemetry
		err := walk(b, fields{
			1: u32(&v.DeployedMask), 2: s32(&v.SideATemperature), 3: s32(&v.SideBTemperature),
			4: boolean(&v.ArmedA), 5: boolean(&v.ArmedB),
		}.visit)
		return v, err
	case types.FileTransferDosimeterData:
		var v types.DosimeterData
		err := walk(b, fields{1: packedU32(&v.Readings, MaxDosimeterReadings)}.visit)
		return v, err
	case types.FileTransferImagePacket:
		var v types.ImagePacket
		err := walk(b, fields{
			1: u32(&v.ID), 2: u32(&v.Type), 3: byteSlice(&v.Data, MaxImageDataSize),
		}.visit)
		return v, err
	case types.FileTransferModuleErrorReport:
		var v types.ModuleErrorReport
		err := walk(b, fields{1: u32(&v.ModuleID), 2: s32(&v.Error)}.visit)
		return v, err
	default: // types.FileTransferComponentErrorReport
		var v types.ComponentErrorReport
		err := walk(b, fields{1: u32(&v.ComponentID), 2: s32(&v.Error)}.visit)
		return v, err
	}
}

// visitFunc consumes one field value. Returning 0 bytes asks walk to skip it.
type visitFunc func(num protowire.Number, typ protowire.Type, v []byte) (int, error)

// walk iterates the fields of b, calling visit for each.
func walk(b []byte, visit visitFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseError(n)
		}
		b = b[n:]
		m, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return parseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

// fieldDecoder consumes one scalar field into its destination.
type fieldDecoder func(typ protowire.Type, v []byte) (int, error)

// fields maps field numbers to decoders for a flat message.
type fields map[protowire.Number]fieldDecoder

func (f fields) visit(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
	if dec, ok := f[num]; ok {
		return dec(typ, v)
	}
	return 0, nil
}

func u32(dst *uint32) fieldDecoder {
	return func(typ protowire.Type, v []byte) (int, error) {
		return consumeUint32(typ, v, dst)
	}
}

func u64(dst *uint64) fieldDecoder {
	return func(typ protowire.Type, v []byte) (int, error) {
		x, n, err := consumeVarint(typ, v)
		if err != nil {
			return 0, err
		}
		*dst = x
		return n, nil
	}
}

func s32(dst *int32) fieldDecoder {
	return func(typ protowire.Type, v []byte) (int, error) {
		x, n, err := consumeVarint(typ, v)
		if err != nil {
			return 0, err
		}
		z := protowire.DecodeZigZag(x)
		if z < math.MinInt32 || z > math.MaxInt32 {
			return 0, fmt.Errorf("%w: sint32 out of range", ErrMalformed)
		}
		*dst = int32(z)
		return n, nil
	}
}

func boolean(dst *bool) fieldDecoder {
	return func(typ protowire.Type, v []byte) (int, error) {
		x, n, err := consumeVarint(typ, v)
		if err != nil {
			return 0, err
		}
		*dst = protowire.DecodeBool(x)
		return n, nil
	}
}

func byteSlice(dst *[]byte, limit int) fieldDecoder {
	return func(typ protowire.Type, v []byte) (int, error) {
		raw, n, err := consumeEmbedded(typ, v)
		if err != nil {
			return 0, err
		}
		if len(raw) > limit {
			return 0, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, len(raw), limit)
		}
		*dst = append([]byte(nil), raw...)
		return n, nil
	}
}

func packedU32(dst *[]uint32, limit int) fieldDecoder {
	return func(typ protowire.Type, v []byte) (int, error) {
		raw, n, err := consumeEmbedded(typ, v)
		if err != nil {
			return 0, err
		}
		for len(raw) > 0 {
			x, m := protowire.ConsumeVarint(raw)
			if m < 0 {
				return 0, parseError(m)
			}
			if x > math.MaxUint32 {
				return 0, fmt.Errorf("%w: uint32 out of range", ErrMalformed)
			}
			if len(*dst) == limit {
				return 0, fmt.Errorf("%w: more than %d values", ErrTooLarge, limit)
			}
			*dst = append(*dst, uint32(x))
			raw = raw[m:]
		}
		return n, nil
	}
}

func consumeUint32(typ protowire.Type, v []byte, dst *uint32) (int, error) {
	x, n, err := consumeVarint(typ, v)
	if err != nil {
		return 0, err
	}
	if x > math.MaxUint32 {
		return 0, fmt.Errorf("%w: uint32 out of range", ErrMalformed)
	}
	*dst = uint32(x)
	return n, nil
}

func consumeVarint(typ protowire.Type, v []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: wire type %d, want varint", ErrMalformed, typ)
	}
	x, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, 0, parseError(n)
	}
	return x, n, nil
}

func consumeEmbedded(typ protowire.Type, v []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: wire type %d, want bytes", ErrMalformed, typ)
	}
	raw, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, 0, parseError(n)
	}
	return raw, n, nil
}

// parseError maps a negative protowire length to a sentinel error.
func parseError(n int) error {
	err := protowire.ParseError(n)
	if n == -1 { // errCodeTruncated
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
