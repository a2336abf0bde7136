package comms

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/radsat/filetransfer"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/protocol"
	"github.com/justapithecus/radsat/types"
)

// responseCode is the resp field of generated Ack and Nack messages.
const responseCode = 1

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("comms: machine stopped")

// PassInfo identifies an open pass.
type PassInfo struct {
	ID         string    `json:"pass_id"`
	StartedAt  time.Time `json:"started_at"`
	PassLength uint32    `json:"pass_length"`
}

// PassSummary describes a finished pass.
type PassSummary struct {
	PassInfo
	EndedAt           time.Time `json:"ended_at"`
	Reason            EndReason `json:"reason"`
	FramesReceived    int       `json:"frames_received"`
	FramesTransmitted int       `json:"frames_transmitted"`
	NacksReceived     int       `json:"nacks_received"`
}

// Observer is told about pass boundaries. Calls are made on the machine
// goroutine and must not block.
type Observer interface {
	PassStarted(PassInfo)
	PassEnded(PassSummary)
}

// Hooks carry out the UpdateTime and Reset telecommands.
type Hooks struct {
	SetTime func(unix uint64) error
	Reset   func(device uint32, hard bool) error
}

// Snapshot is a point-in-time view of the machine.
type Snapshot struct {
	State            State  `json:"state"`
	PassID           string `json:"pass_id,omitempty"`
	PassTimerActive  bool   `json:"pass_timer_active"`
	QuietTimerActive bool   `json:"quiet_timer_active"`
	Queued           int    `json:"queued"`
}

// Option configures a Machine.
type Option func(*Machine)

// WithRules sets the transition rules.
func WithRules(r Rules) Option {
	return func(m *Machine) { m.rules = r }
}

// WithDurations sets the pass and quiet timer periods.
func WithDurations(pass, quiet time.Duration) Option {
	return func(m *Machine) {
		m.passDuration = pass
		m.quietDuration = quiet
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics sets the counters.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Machine) { m.metrics = c }
}

// WithObserver sets the pass observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithHooks sets the telecommand hooks. Nil hooks are logged only.
func WithHooks(h Hooks) Option {
	return func(m *Machine) { m.hooks = h }
}

// WithClock sets the clock used for pass timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

type (
	eventRequest struct {
		ev Event
	}
	pollRequest struct {
		reply chan []byte
	}
	snapshotRequest struct {
		reply chan Snapshot
	}
	timerFired struct {
		timer *oneShot
	}
)

// Machine owns the communication state on a single goroutine.
type Machine struct {
	rules         Rules
	passDuration  time.Duration
	quietDuration time.Duration
	queue         *filetransfer.Queue
	proto         *protocol.Service
	logger        *log.Logger
	metrics       *metrics.Collector
	observer      Observer
	hooks         Hooks
	now           func() time.Time

	reqs chan any
	done chan struct{}

	// Owned by the Run goroutine.
	state      State
	pass       *PassSummary
	passTimer  oneShot
	quietTimer oneShot
}

// NewMachine creates a machine that downlinks from queue and generates
// responses through proto. Call Run to start it.
func NewMachine(queue *filetransfer.Queue, proto *protocol.Service, opts ...Option) *Machine {
	m := &Machine{
		rules:         DefaultRules(),
		passDuration:  DefaultMaxPassModeDuration,
		quietDuration: DefaultMaxQuietModeDuration,
		queue:         queue,
		proto:         proto,
		logger:        log.NewNop(),
		now:           time.Now,
		reqs:          make(chan any, 16),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.passTimer.name = "pass"
	m.quietTimer.name = "quiet"
	return m
}

// Run serves requests until ctx is done. An open pass is closed with
// EndShutdown. Run must be called once.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer func() {
		m.passTimer.stop()
		m.quietTimer.stop()
		if m.pass != nil {
			m.endPass(EndShutdown)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-m.reqs:
			m.serve(req)
		}
	}
}

// Dispatch delivers an event.
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	return m.send(ctx, eventRequest{ev: ev})
}

// NextFrame polls the machine for the next frame to transmit.
// It returns nil when there is nothing to send.
func (m *Machine) NextFrame(ctx context.Context) ([]byte, error) {
	reply := make(chan []byte, 1)
	if err := m.send(ctx, pollRequest{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case b := <-reply:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrStopped
	}
}

// Snapshot returns the current state and timer activity.
func (m *Machine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := m.send(ctx, snapshotRequest{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-m.done:
		return Snapshot{}, ErrStopped
	}
}

func (m *Machine) send(ctx context.Context, req any) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.reqs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

func (m *Machine) serve(req any) {
	switch r := req.(type) {
	case eventRequest:
		m.handleEvent(r.ev)
	case pollRequest:
		r.reply <- m.poll()
	case snapshotRequest:
		r.reply <- m.snapshot()
	case timerFired:
		m.handleTimer(r.timer)
	}
}

func (m *Machine) handleEvent(ev Event) {
	m.step(ev)
	if m.pass != nil {
		m.pass.FramesReceived++
		if ev.Kind == EventNackReceived {
			m.pass.NacksReceived++
		}
	}
}

func (m *Machine) handleTimer(t *oneShot) {
	if !t.fired(time.Now()) {
		m.logger.Debug("stale timer expiry ignored", map[string]any{"timer": t.name})
		return
	}
	if t == &m.quietTimer {
		m.step(Event{Kind: EventQuietTimeout})
		return
	}
	m.step(Event{Kind: EventPassTimeout})
}

func (m *Machine) step(ev Event) {
	prev := m.state.Mode
	next, effects := m.rules.Transition(m.state, ev)
	m.state = next
	m.apply(effects)
	if prev != m.state.Mode {
		m.logger.Info("mode changed", map[string]any{
			"event": ev.Kind.String(),
			"from":  prev.String(),
			"to":    m.state.Mode.String(),
		})
	}
}

func (m *Machine) poll() []byte {
	next, action, effects := m.rules.Poll(m.state, m.queue.Len())
	m.state = next
	m.apply(effects)

	var b []byte
	switch action {
	case ActionSendAck:
		b = m.generate(types.Ack{Resp: responseCode})
		if b != nil {
			m.metrics.IncAckSent()
		}
	case ActionSendNack:
		b = m.generate(types.Nack{Resp: responseCode})
		if b != nil {
			m.metrics.IncNackSent()
		}
	case ActionNextFrame:
		b = m.queue.NextFrame()
	case ActionCurrentFrame:
		b = m.queue.CurrentFrame()
		if b != nil {
			m.logger.Debug("retransmitting current frame", map[string]any{
				"transmission_errors": m.state.FileTransfer.TransmissionErrors,
			})
		}
	}
	if b != nil && m.pass != nil {
		m.pass.FramesTransmitted++
	}
	return b
}

func (m *Machine) generate(resp types.ProtocolBody) []byte {
	b, err := m.proto.Generate(resp)
	if err != nil {
		m.logger.Error("failed to generate response", map[string]any{
			"response": resp.ProtocolTag().String(),
			"error":    err.Error(),
		})
		return nil
	}
	return b
}

func (m *Machine) snapshot() Snapshot {
	s := Snapshot{
		State:            m.state,
		PassTimerActive:  m.passTimer.armed,
		QuietTimerActive: m.quietTimer.armed,
		Queued:           m.queue.Len(),
	}
	if m.pass != nil {
		s.PassID = m.pass.ID
	}
	return s
}

func (m *Machine) apply(effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectStartPassTimer:
			m.passTimer.start(m.passDuration, m.fire(&m.passTimer))
		case EffectStopPassTimer:
			m.passTimer.stop()
		case EffectStartQuietTimer:
			m.quietTimer.start(m.quietDuration, m.fire(&m.quietTimer))
		case EffectStopQuietTimer:
			m.quietTimer.stop()
		case EffectPassStarted:
			m.startPass(e.PassLength)
		case EffectPassEnded:
			m.endPass(e.Reason)
		case EffectSetTime:
			m.setTime(e.UnixTime)
		case EffectReset:
			m.reset(e.Device, e.Hard)
		}
	}
}

func (m *Machine) fire(t *oneShot) func() {
	return func() {
		select {
		case m.reqs <- timerFired{timer: t}:
		case <-m.done:
		}
	}
}

func (m *Machine) startPass(passLength uint32) {
	if m.pass != nil {
		m.endPass(EndShutdown)
	}
	info := PassInfo{
		ID:         uuid.NewString(),
		StartedAt:  m.now(),
		PassLength: passLength,
	}
	m.pass = &PassSummary{PassInfo: info}
	m.metrics.IncPassStarted()
	m.logger.Info("pass started", map[string]any{
		"pass_id":     info.ID,
		"pass_length": passLength,
	})
	if m.observer != nil {
		m.observer.PassStarted(info)
	}
}

func (m *Machine) endPass(reason EndReason) {
	if m.pass == nil {
		return
	}
	summary := *m.pass
	m.pass = nil
	summary.EndedAt = m.now()
	summary.Reason = reason

	if reason == EndTimeout {
		m.metrics.IncPassCompleted()
	} else {
		m.metrics.IncPassAborted()
	}
	m.logger.Info("pass ended", map[string]any{
		"pass_id":            summary.ID,
		"reason":             string(reason),
		"frames_received":    summary.FramesReceived,
		"frames_transmitted": summary.FramesTransmitted,
		"nacks_received":     summary.NacksReceived,
	})
	if m.observer != nil {
		m.observer.PassEnded(summary)
	}
}

func (m *Machine) setTime(unix uint64) {
	if m.hooks.SetTime == nil {
		m.logger.Info("update time requested", map[string]any{"unix_time": unix})
		return
	}
	if err := m.hooks.SetTime(unix); err != nil {
		m.logger.Error("set time failed", map[string]any{"unix_time": unix, "error": err.Error()})
	}
}

func (m *Machine) reset(device uint32, hard bool) {
	if m.hooks.Reset == nil {
		m.logger.Info("reset requested", map[string]any{"device": device, "hard": hard})
		return
	}
	if err := m.hooks.Reset(device, hard); err != nil {
		m.logger.Error("reset failed", map[string]any{"device": device, "hard": hard, "error": err.Error()})
	}
}
