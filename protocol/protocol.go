// Package protocol generates flow-control responses and classifies inbound
// frames into named commands.
package protocol

import (
	"errors"
	"fmt"

	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/types"
)

// Command names a decoded uplink intent.
type Command int

// Commands. CommandNone is the zero value and never returned with a nil error.
const (
	CommandNone Command = iota
	CommandAck
	CommandNack
	CommandBeginPass
	CommandBeginFileTransfer
	CommandCeaseTransmission
	CommandUpdateTime
	CommandReset
	CommandResumeTransmission
)

var commandNames = [...]string{
	CommandNone:               "none",
	CommandAck:                "ack",
	CommandNack:               "nack",
	CommandBeginPass:          "begin_pass",
	CommandBeginFileTransfer:  "begin_file_transfer",
	CommandCeaseTransmission:  "cease_transmission",
	CommandUpdateTime:         "update_time",
	CommandReset:              "reset",
	CommandResumeTransmission: "resume_transmission",
}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("command(%d)", int(c))
}

var (
	// ErrProtoUnwrap is returned when an inbound frame fails to unwrap.
	// The frame error is wrapped alongside it.
	ErrProtoUnwrap = errors.New("protocol: unwrap failed")
	// ErrUnknownCommand is returned for a valid frame that carries no
	// uplink command.
	ErrUnknownCommand = errors.New("protocol: unknown command")
	// ErrNilResponse is returned when Generate is given no response.
	ErrNilResponse = errors.New("protocol: nil response")
)

// Result is a classified inbound frame.
type Result struct {
	Command Command
	// Body is the decoded sub-message: a types.ProtocolBody for Ack and Nack,
	// otherwise a types.TelecommandBody.
	Body  any
	Frame *frame.Frame
}

// Service is the protocol service.
type Service struct {
	codec *frame.Codec
}

// New creates a service that frames through codec.
func New(codec *frame.Codec) *Service {
	return &Service{codec: codec}
}

// Generate wraps an Ack or Nack into a downlink frame.
func (s *Service) Generate(resp types.ProtocolBody) ([]byte, error) {
	if resp == nil {
		return nil, ErrNilResponse
	}
	b, err := s.codec.Wrap(&types.ProtocolMessage{Body: resp})
	if err != nil {
		return nil, fmt.Errorf("protocol: generate %s: %w", resp.ProtocolTag(), err)
	}
	return b, nil
}

// Handle unwraps an inbound frame and names its command.
//
// Errors:
//   - ErrProtoUnwrap (wrapping a *frame.FrameError): the frame was rejected
//   - ErrUnknownCommand: the frame was valid but not an uplink command
func (s *Service) Handle(b []byte) (Result, error) {
	f, err := s.codec.Unwrap(b)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProtoUnwrap, err)
	}

	switch msg := f.Message.(type) {
	case *types.ProtocolMessage:
		cmd, ok := protocolCommand(msg.Body)
		if !ok {
			return Result{Frame: f}, fmt.Errorf("%w: protocol %T", ErrUnknownCommand, msg.Body)
		}
		return Result{Command: cmd, Body: msg.Body, Frame: f}, nil
	case *types.TelecommandMessage:
		cmd, ok := telecommandCommand(msg.Body)
		if !ok {
			return Result{Frame: f}, fmt.Errorf("%w: telecommand %T", ErrUnknownCommand, msg.Body)
		}
		return Result{Command: cmd, Body: msg.Body, Frame: f}, nil
	default:
		return Result{Frame: f}, fmt.Errorf("%w: service %s", ErrUnknownCommand, f.Message.Service())
	}
}

func protocolCommand(body types.ProtocolBody) (Command, bool) {
	switch body.(type) {
	case types.Ack:
		return CommandAck, true
	case types.Nack:
		return CommandNack, true
	default:
		return CommandNone, false
	}
}

func telecommandCommand(body types.TelecommandBody) (Command, bool) {
	switch body.(type) {
	case types.BeginPass:
		return CommandBeginPass, true
	case types.BeginFileTransfer:
		return CommandBeginFileTransfer, true
	case types.CeaseTransmission:
		return CommandCeaseTransmission, true
	case types.UpdateTime:
		return CommandUpdateTime, true
	case types.Reset:
		return CommandReset, true
	case types.ResumeTransmission:
		return CommandResumeTransmission, true
	default:
		return CommandNone, false
	}
}
