// Package runtime runs the communication tasks against a transceiver.
//
// RxTask polls the radio for uplink frames and turns them into state
// machine events. TxTask polls the state machine for downlink frames and
// hands them to the radio. TelemetryTask feeds housekeeping records into
// the downlink queue. Stack wires all of them together.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/radsat/comms"
	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/journal"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/protocol"
	"github.com/justapithecus/radsat/transceiver"
	"github.com/justapithecus/radsat/types"
)

// DefaultRxPollInterval is the Rx task cycle period.
const DefaultRxPollInterval = 150 * time.Millisecond

// Dispatcher accepts state machine events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev comms.Event) error
}

// RxConfig configures an RxTask.
type RxConfig struct {
	// Link is the radio to poll (required).
	Link transceiver.Transceiver
	// Protocol classifies inbound frames (required).
	Protocol *protocol.Service
	// Machine receives the resulting events (required).
	Machine Dispatcher
	// Interval is the poll period (default 150ms).
	Interval time.Duration
	// Journal records every received frame, if set.
	Journal *journal.Journal
	// CurrentPass names the open pass for journal records.
	CurrentPass func() string
	Logger      *log.Logger
	Collector   *metrics.Collector
	// Now is the receive clock (default time.Now).
	Now func() time.Time
}

// RxTask is the uplink loop.
type RxTask struct {
	cfg RxConfig
}

// NewRxTask creates an Rx task.
func NewRxTask(cfg RxConfig) *RxTask {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRxPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CurrentPass == nil {
		cfg.CurrentPass = func() string { return "" }
	}
	return &RxTask{cfg: cfg}
}

// Run polls once per interval until ctx is done. Cycle failures are logged
// and the loop continues.
func (t *RxTask) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		t.Cycle(ctx)
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	return nil
}

// Cycle takes at most one frame from the radio and dispatches it. It
// reports whether a frame was taken.
func (t *RxTask) Cycle(ctx context.Context) bool {
	n, err := t.cfg.Link.RxFrameCount(ctx)
	if err != nil {
		t.linkError("rx frame count failed", err)
		return false
	}
	if n == 0 {
		return false
	}

	b, err := t.cfg.Link.GetFrame(ctx)
	if err != nil {
		if !errors.Is(err, transceiver.ErrRxEmpty) {
			t.linkError("get frame failed", err)
		}
		return false
	}
	t.cfg.Collector.IncFrameReceived()
	t.handle(ctx, b)
	return true
}

func (t *RxTask) handle(ctx context.Context, b []byte) {
	res, err := t.cfg.Protocol.Handle(b)
	if err != nil {
		t.reject(ctx, b, err)
		return
	}

	t.record(ctx, b, res.Command.String(), nil)
	t.cfg.Collector.IncCommand(res.Command.String())
	switch res.Command {
	case protocol.CommandAck:
		t.cfg.Collector.IncAckReceived()
	case protocol.CommandNack:
		t.cfg.Collector.IncNackReceived()
	}

	ev, ok := EventFor(res)
	if !ok {
		return
	}
	t.dispatch(ctx, ev)
}

// reject answers an unusable uplink frame with a Nack.
func (t *RxTask) reject(ctx context.Context, b []byte, err error) {
	fields := map[string]any{"size": len(b), "error": err.Error()}
	switch {
	case errors.Is(err, protocol.ErrProtoUnwrap):
		kind := "unknown"
		if k, ok := frame.KindOf(err); ok {
			kind = k.String()
		}
		fields["kind"] = kind
		t.cfg.Collector.IncUnwrapError(kind)
		t.cfg.Logger.Warn("uplink frame rejected", fields)
	case errors.Is(err, protocol.ErrUnknownCommand):
		t.cfg.Collector.IncUnknownCommand()
		t.cfg.Logger.Warn("unknown uplink command", fields)
	default:
		t.cfg.Logger.Error("uplink frame handling failed", fields)
	}
	t.record(ctx, b, "", err)
	t.dispatch(ctx, comms.Event{Kind: comms.EventSendNack})
}

func (t *RxTask) dispatch(ctx context.Context, ev comms.Event) {
	if err := t.cfg.Machine.Dispatch(ctx, ev); err != nil && ctx.Err() == nil {
		t.cfg.Logger.Error("dispatch failed", map[string]any{
			"event": ev.Kind.String(),
			"error": err.Error(),
		})
	}
}

func (t *RxTask) record(ctx context.Context, b []byte, command string, err error) {
	if t.cfg.Journal == nil {
		return
	}
	t.cfg.Journal.RecordFrame(ctx, t.cfg.CurrentPass(), types.DirectionUplink, t.cfg.Now(), b, command, err)
}

func (t *RxTask) linkError(msg string, err error) {
	t.cfg.Collector.IncTransceiverError()
	t.cfg.Logger.Warn(msg, map[string]any{"error": err.Error()})
}

// EventFor maps a classified uplink frame to its state machine event.
func EventFor(res protocol.Result) (comms.Event, bool) {
	switch body := res.Body.(type) {
	case types.Ack:
		return comms.Event{Kind: comms.EventAckReceived}, true
	case types.Nack:
		return comms.Event{Kind: comms.EventNackReceived}, true
	case types.BeginPass:
		return comms.Event{Kind: comms.EventBeginPass, PassLength: body.PassLength}, true
	case types.BeginFileTransfer:
		return comms.Event{Kind: comms.EventBeginFileTransfer}, true
	case types.CeaseTransmission:
		return comms.Event{Kind: comms.EventCeaseTransmission}, true
	case types.UpdateTime:
		return comms.Event{Kind: comms.EventUpdateTime, UnixTime: body.UnixTime}, true
	case types.Reset:
		return comms.Event{Kind: comms.EventReset, Device: body.Device, Hard: body.Hard}, true
	case types.ResumeTransmission:
		return comms.Event{Kind: comms.EventResumeTransmission}, true
	default:
		return comms.Event{}, false
	}
}
