// Package comms implements the pass state machine.
//
// The transition logic is pure: Rules.Transition and Rules.Poll map a State
// and an input to a new State plus a list of Effects. Machine owns one State
// on a single goroutine and executes the effects (timers, pass lifecycle,
// clock and reset hooks). Rx events, Tx polls and timer expiries all reach
// the state through the Machine's request channel.
package comms

import (
	"fmt"
	"time"
)

// Mode is the pass mode.
type Mode uint8

// Modes. ModeIdle is the zero value.
const (
	ModeIdle Mode = iota
	ModeTelecommand
	ModeFileTransfer
	ModeQuiet
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeTelecommand:
		return "telecommand"
	case ModeFileTransfer:
		return "file_transfer"
	case ModeQuiet:
		return "quiet"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Response is a pending flow-control response.
type Response uint8

// Responses.
const (
	ResponseNone Response = iota
	ResponseAck
	ResponseNack
)

func (r Response) String() string {
	switch r {
	case ResponseNone:
		return "none"
	case ResponseAck:
		return "ack"
	case ResponseNack:
		return "nack"
	default:
		return fmt.Sprintf("response(%d)", uint8(r))
	}
}

// TelecommandState is the response slot for uplinked commands.
type TelecommandState struct {
	TransmitReady  bool     `json:"transmit_ready"`
	ResponseToSend Response `json:"response_to_send"`
}

// FileTransferState is the downlink flow-control slot.
type FileTransferState struct {
	TransmitReady      bool     `json:"transmit_ready"`
	ResponseReceived   Response `json:"response_received"`
	TransmissionErrors uint8    `json:"transmission_errors"`
}

// State is the complete communication state. The zero value is Idle.
type State struct {
	Mode         Mode              `json:"mode"`
	Telecommand  TelecommandState  `json:"telecommand"`
	FileTransfer FileTransferState `json:"file_transfer"`
}

// InPass reports whether the mode belongs to an open pass.
func (s State) InPass() bool {
	return s.Mode == ModeTelecommand || s.Mode == ModeFileTransfer
}

// EventKind names a state machine input.
type EventKind uint8

// Event kinds.
const (
	EventBeginPass EventKind = iota + 1
	EventBeginFileTransfer
	EventAckReceived
	EventNackReceived
	EventUpdateTime
	EventReset
	EventSendNack
	EventCeaseTransmission
	EventResumeTransmission
	EventPassTimeout
	EventQuietTimeout
)

var eventNames = map[EventKind]string{
	EventBeginPass:          "begin_pass",
	EventBeginFileTransfer:  "begin_file_transfer",
	EventAckReceived:        "ack_received",
	EventNackReceived:       "nack_received",
	EventUpdateTime:         "update_time",
	EventReset:              "reset",
	EventSendNack:           "send_nack",
	EventCeaseTransmission:  "cease_transmission",
	EventResumeTransmission: "resume_transmission",
	EventPassTimeout:        "pass_timeout",
	EventQuietTimeout:       "quiet_timeout",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// AllEvents lists every event kind in declaration order.
func AllEvents() []EventKind {
	return []EventKind{
		EventBeginPass, EventBeginFileTransfer, EventAckReceived, EventNackReceived,
		EventUpdateTime, EventReset, EventSendNack, EventCeaseTransmission,
		EventResumeTransmission, EventPassTimeout, EventQuietTimeout,
	}
}

// Event is one input. Arguments are set only for the kinds that use them.
type Event struct {
	Kind EventKind

	// PassLength is the ground estimate carried by BeginPass, in seconds.
	PassLength uint32
	// UnixTime is the clock value carried by UpdateTime.
	UnixTime uint64
	// Device and Hard are carried by Reset.
	Device uint32
	Hard   bool
}

// EndReason says why a pass ended.
type EndReason string

// End reasons.
const (
	EndTimeout   EndReason = "timeout"
	EndNackLimit EndReason = "nack_limit"
	EndCeased    EndReason = "ceased"
	EndShutdown  EndReason = "shutdown"
)

// EffectKind names a side effect requested by a transition.
type EffectKind uint8

// Effect kinds.
const (
	EffectStartPassTimer EffectKind = iota + 1
	EffectStopPassTimer
	EffectStartQuietTimer
	EffectStopQuietTimer
	EffectPassStarted
	EffectPassEnded
	EffectSetTime
	EffectReset
)

var effectNames = map[EffectKind]string{
	EffectStartPassTimer:  "start_pass_timer",
	EffectStopPassTimer:   "stop_pass_timer",
	EffectStartQuietTimer: "start_quiet_timer",
	EffectStopQuietTimer:  "stop_quiet_timer",
	EffectPassStarted:     "pass_started",
	EffectPassEnded:       "pass_ended",
	EffectSetTime:         "set_time",
	EffectReset:           "reset",
}

func (k EffectKind) String() string {
	if name, ok := effectNames[k]; ok {
		return name
	}
	return fmt.Sprintf("effect(%d)", uint8(k))
}

// Effect is a side effect for the runtime to carry out.
type Effect struct {
	Kind EffectKind

	// Reason is set for EffectPassEnded.
	Reason EndReason
	// PassLength is set for EffectPassStarted.
	PassLength uint32
	// UnixTime is set for EffectSetTime.
	UnixTime uint64
	// Device and Hard are set for EffectReset.
	Device uint32
	Hard   bool
}

// Action tells the Tx path what to transmit after a poll.
type Action uint8

// Actions.
const (
	ActionNone Action = iota
	ActionSendAck
	ActionSendNack
	ActionNextFrame
	ActionCurrentFrame
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSendAck:
		return "send_ack"
	case ActionSendNack:
		return "send_nack"
	case ActionNextFrame:
		return "next_frame"
	case ActionCurrentFrame:
		return "current_frame"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// NackPolicy selects how a received Nack is answered.
type NackPolicy string

// Nack policies.
const (
	// NackResend retransmits the current frame.
	NackResend NackPolicy = "resend"
	// NackSilent sends nothing and waits for the next response.
	NackSilent NackPolicy = "silent"
)

// Defaults.
const (
	DefaultNackErrorLimit       = 3
	DefaultMaxPassModeDuration  = 15 * time.Minute
	DefaultMaxQuietModeDuration = 30 * time.Minute
)

// Rules parameterize the transition functions.
type Rules struct {
	// NackErrorLimit is the consecutive Nack count that aborts a pass.
	NackErrorLimit uint8
	NackPolicy     NackPolicy
	// AckBeginFileTransfer queues an Ack when file transfer begins.
	AckBeginFileTransfer bool
}

// DefaultRules returns the flight rules.
func DefaultRules() Rules {
	return Rules{
		NackErrorLimit: DefaultNackErrorLimit,
		NackPolicy:     NackResend,
	}
}
