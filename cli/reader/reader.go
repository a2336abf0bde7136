package reader

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/types"
)

// DecodeFrame unwraps raw through codec and describes the result. Decode
// failures are reported on the view, never as an error.
func DecodeFrame(codec *frame.Codec, raw []byte) *FrameView {
	v := &FrameView{Hex: hex.EncodeToString(raw), Size: len(raw)}

	f, err := codec.Unwrap(raw)
	if err != nil {
		v.Error = err.Error()
		if kind, ok := frame.KindOf(err); ok {
			v.ErrorKind = kind.String()
			v.CRCValid = kind == frame.FrameErrorDecode
		}
		if plain, serr := codec.Seal(raw); serr == nil {
			if hdr, herr := frame.ParseHeader(plain); herr == nil {
				v.setHeader(hdr)
			}
		}
		return v
	}

	v.setHeader(f.Header)
	v.CRCValid = true
	v.Service, v.Kind, v.Body = Describe(f.Message)
	return v
}

func (v *FrameView) setHeader(h frame.Header) {
	v.Preamble = fmt.Sprintf("0x%04x", h.Preamble)
	v.CRC = fmt.Sprintf("0x%08x", h.CRC)
	v.PayloadSize = int(h.Size)
	v.Timestamp = time.Unix(int64(h.Timestamp), 0).UTC()
}

// Describe names a message's service and variant and returns its body.
func Describe(m types.Message) (service, kind string, body any) {
	if m == nil {
		return "", "", nil
	}
	service = m.Service().String()
	switch msg := m.(type) {
	case *types.ProtocolMessage:
		if msg.Body != nil {
			kind, body = msg.Body.ProtocolTag().String(), msg.Body
		}
	case *types.TelecommandMessage:
		if msg.Body != nil {
			kind, body = msg.Body.TelecommandTag().String(), msg.Body
		}
	case *types.FileTransferMessage:
		if msg.Body != nil {
			kind, body = msg.Body.FileTransferTag().String(), msg.Body
		}
	}
	return service, kind, body
}

// ErrUnknownKind is returned by BuildMessage for an unrecognized kind.
var ErrUnknownKind = errors.New("unknown message kind")

type builder func(dec *yaml.Decoder) (types.Message, error)

func decodeInto[T any](dec *yaml.Decoder, wrap func(T) types.Message) (types.Message, error) {
	var body T
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return wrap(body), nil
}

func protocol[T types.ProtocolBody](dec *yaml.Decoder) (types.Message, error) {
	return decodeInto(dec, func(b T) types.Message { return &types.ProtocolMessage{Body: b} })
}

func telecommand[T types.TelecommandBody](dec *yaml.Decoder) (types.Message, error) {
	return decodeInto(dec, func(b T) types.Message { return &types.TelecommandMessage{Body: b} })
}

func fileTransfer[T types.FileTransferBody](dec *yaml.Decoder) (types.Message, error) {
	return decodeInto(dec, func(b T) types.Message { return &types.FileTransferMessage{Body: b} })
}

var builders = map[string]builder{
	"ack":                    protocol[types.Ack],
	"nack":                   protocol[types.Nack],
	"begin_pass":             telecommand[types.BeginPass],
	"begin_file_transfer":    telecommand[types.BeginFileTransfer],
	"cease_transmission":     telecommand[types.CeaseTransmission],
	"update_time":            telecommand[types.UpdateTime],
	"reset":                  telecommand[types.Reset],
	"resume_transmission":    telecommand[types.ResumeTransmission],
	"obc_telemetry":          fileTransfer[types.ObcTelemetry],
	"transceiver_telemetry":  fileTransfer[types.TransceiverTelemetry],
	"camera_telemetry":       fileTransfer[types.CameraTelemetry],
	"eps_telemetry":          fileTransfer[types.EpsTelemetry],
	"battery_telemetry":      fileTransfer[types.BatteryTelemetry],
	"antenna_telemetry":      fileTransfer[types.AntennaTelemetry],
	"dosimeter_data":         fileTransfer[types.DosimeterData],
	"image_packet":           fileTransfer[types.ImagePacket],
	"module_error_report":    fileTransfer[types.ModuleErrorReport],
	"component_error_report": fileTransfer[types.ComponentErrorReport],
}

// Kinds returns the message kinds BuildMessage accepts, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(builders))
	for k := range builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// BuildMessage builds a message of the named kind from a YAML body. An
// empty body gives the zero-valued variant. Unknown fields are rejected.
func BuildMessage(kind string, body []byte) (types.Message, error) {
	build, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	dec := yaml.NewDecoder(bytes.NewReader(body))
	dec.KnownFields(true)
	m, err := build(dec)
	if err != nil {
		return nil, fmt.Errorf("%s body: %w", kind, err)
	}
	return m, nil
}

// PassItems shapes pass records into list rows, newest first.
func PassItems(passes []types.PassRecord) []PassItem {
	items := make([]PassItem, 0, len(passes))
	for _, p := range passes {
		items = append(items, PassItem{
			PassID:            p.PassID,
			Reason:            p.Reason,
			StartedAt:         p.StartedAt,
			Duration:          p.EndedAt.Sub(p.StartedAt).Round(time.Millisecond).String(),
			FramesReceived:    p.FramesReceived,
			FramesTransmitted: p.FramesTransmitted,
			NacksReceived:     p.NacksReceived,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].StartedAt.After(items[j].StartedAt)
	})
	return items
}
