package comms

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/radsat/filetransfer"
	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/protocol"
	"github.com/justapithecus/radsat/types"
)

type recorder struct {
	mu      sync.Mutex
	started []PassInfo
	ended   []PassSummary
}

func (r *recorder) PassStarted(p PassInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, p)
}

func (r *recorder) PassEnded(s PassSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, s)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), len(r.ended)
}

func (r *recorder) lastEnded() PassSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ended) == 0 {
		return PassSummary{}
	}
	return r.ended[len(r.ended)-1]
}

type harness struct {
	m      *Machine
	queue  *filetransfer.Queue
	codec  *frame.Codec
	cancel context.CancelFunc
	runErr chan error
	once   sync.Once
}

func startMachine(t *testing.T, opts ...Option) *harness {
	t.Helper()
	codec := frame.NewCodec()
	queue, err := filetransfer.NewQueue(codec, filetransfer.DefaultMaxFrameCount)
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	m := NewMachine(queue, protocol.New(codec), opts...)
	ctx, cancel := context.WithCancel(t.Context())
	h := &harness{m: m, queue: queue, codec: codec, cancel: cancel, runErr: make(chan error, 1)}
	go func() { h.runErr <- m.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.once.Do(func() {
		h.cancel()
		select {
		case err := <-h.runErr:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func (h *harness) dispatch(t *testing.T, ev Event) {
	t.Helper()
	if err := h.m.Dispatch(t.Context(), ev); err != nil {
		t.Fatalf("Dispatch(%s) failed: %v", ev.Kind, err)
	}
}

func (h *harness) next(t *testing.T) []byte {
	t.Helper()
	b, err := h.m.NextFrame(t.Context())
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	return b
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.m.Snapshot(t.Context())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return s
}

func (h *harness) eventually(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := h.snapshot(t)
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) protocolBody(t *testing.T, b []byte) types.ProtocolBody {
	t.Helper()
	f, err := h.codec.Unwrap(b)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	pm, ok := f.Message.(*types.ProtocolMessage)
	if !ok {
		t.Fatalf("message = %T, want *types.ProtocolMessage", f.Message)
	}
	return pm.Body
}

func (h *harness) addReport(t *testing.T, id uint32) {
	t.Helper()
	if err := h.queue.Add(types.ModuleErrorReport{ModuleID: id, Error: -1}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
}

func reportID(t *testing.T, codec *frame.Codec, b []byte) uint32 {
	t.Helper()
	f, err := codec.Unwrap(b)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	ft, ok := f.Message.(*types.FileTransferMessage)
	if !ok {
		t.Fatalf("message = %T, want *types.FileTransferMessage", f.Message)
	}
	r, ok := ft.Body.(types.ModuleErrorReport)
	if !ok {
		t.Fatalf("body = %T, want ModuleErrorReport", ft.Body)
	}
	return r.ModuleID
}

func TestMachine_PassLifecycle(t *testing.T) {
	rec := &recorder{}
	mc := metrics.NewCollector("test", "memory", "memory")
	h := startMachine(t, WithObserver(rec), WithMetrics(mc))

	if b := h.next(t); b != nil {
		t.Fatalf("idle NextFrame = %x, want nil", b)
	}

	h.dispatch(t, Event{Kind: EventBeginPass, PassLength: 600})
	s := h.snapshot(t)
	if s.State.Mode != ModeTelecommand || !s.State.Telecommand.TransmitReady {
		t.Fatalf("after BeginPass state = %+v", s.State)
	}
	if !s.PassTimerActive || s.PassID == "" {
		t.Fatalf("after BeginPass snapshot = %+v, want pass timer and pass id", s)
	}

	b := h.next(t)
	if _, ok := h.protocolBody(t, b).(types.Ack); !ok {
		t.Fatalf("first downlink is not an Ack")
	}
	if s := h.snapshot(t); s.State.Telecommand.TransmitReady {
		t.Fatal("Ack still pending after NextFrame")
	}
	if b := h.next(t); b != nil {
		t.Fatalf("second NextFrame = %x, want nil", b)
	}

	h.dispatch(t, Event{Kind: EventBeginFileTransfer})
	if s := h.snapshot(t); s.State.Mode != ModeFileTransfer {
		t.Fatalf("mode = %s, want file_transfer", s.State.Mode)
	}

	h.dispatch(t, Event{Kind: EventAckReceived})
	if b := h.next(t); b != nil {
		t.Fatalf("NextFrame with empty queue = %x, want nil", b)
	}

	h.addReport(t, 7)
	b = h.next(t)
	if b == nil {
		t.Fatal("NextFrame after Add returned nil")
	}
	if id := reportID(t, h.codec, b); id != 7 {
		t.Fatalf("downlinked module id = %d, want 7", id)
	}
	if b := h.next(t); b != nil {
		t.Fatalf("NextFrame without a new Ack = %x, want nil", b)
	}

	started, ended := rec.counts()
	if started != 1 || ended != 0 {
		t.Fatalf("observer started=%d ended=%d, want 1 0", started, ended)
	}
	rec.mu.Lock()
	passLength := rec.started[0].PassLength
	rec.mu.Unlock()
	if passLength != 600 {
		t.Errorf("PassLength = %d, want 600", passLength)
	}
	if got := mc.Snapshot(); got.PassesStarted != 1 || got.AcksSent != 1 {
		t.Errorf("metrics = %+v", got)
	}
}

func TestMachine_QuietOverride(t *testing.T) {
	rec := &recorder{}
	h := startMachine(t, WithObserver(rec))

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.dispatch(t, Event{Kind: EventBeginFileTransfer})
	h.dispatch(t, Event{Kind: EventCeaseTransmission})

	s := h.snapshot(t)
	if s.State != (State{Mode: ModeQuiet}) {
		t.Fatalf("state = %+v, want quiet", s.State)
	}
	if s.PassTimerActive || s.QuietTimerActive {
		t.Fatalf("timers active after cease: %+v", s)
	}
	if got := rec.lastEnded().Reason; got != EndCeased {
		t.Fatalf("end reason = %q, want ceased", got)
	}

	h.dispatch(t, Event{Kind: EventBeginPass})
	if s := h.snapshot(t); s.State.Mode != ModeQuiet {
		t.Fatalf("BeginPass in quiet changed mode to %s", s.State.Mode)
	}
	if b := h.next(t); b != nil {
		t.Fatalf("quiet NextFrame = %x, want nil", b)
	}

	h.dispatch(t, Event{Kind: EventResumeTransmission})
	s = h.snapshot(t)
	if s.State.Mode != ModeTelecommand || !s.PassTimerActive {
		t.Fatalf("after resume snapshot = %+v", s)
	}
	if _, ok := h.protocolBody(t, h.next(t)).(types.Ack); !ok {
		t.Fatal("resume did not queue an Ack")
	}
	if started, _ := rec.counts(); started != 2 {
		t.Fatalf("passes started = %d, want 2", started)
	}
}

func TestMachine_NackLimit(t *testing.T) {
	rec := &recorder{}
	mc := metrics.NewCollector("test", "memory", "memory")
	h := startMachine(t, WithObserver(rec), WithMetrics(mc))

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.next(t)
	h.dispatch(t, Event{Kind: EventBeginFileTransfer})
	h.addReport(t, 1)
	h.addReport(t, 2)

	h.dispatch(t, Event{Kind: EventAckReceived})
	first := h.next(t)
	if id := reportID(t, h.codec, first); id != 1 {
		t.Fatalf("first frame id = %d, want 1", id)
	}

	for i := 1; i < DefaultNackErrorLimit; i++ {
		h.dispatch(t, Event{Kind: EventNackReceived})
		b := h.next(t)
		if !bytes.Equal(b, first) {
			t.Fatalf("nack %d retransmitted %x, want current frame", i, b)
		}
	}
	if s := h.snapshot(t); s.State.FileTransfer.TransmissionErrors != DefaultNackErrorLimit-1 {
		t.Fatalf("transmission errors = %d", s.State.FileTransfer.TransmissionErrors)
	}

	h.dispatch(t, Event{Kind: EventNackReceived})
	if b := h.next(t); b != nil {
		t.Fatalf("NextFrame at nack limit = %x, want nil", b)
	}
	s := h.snapshot(t)
	if s.State.Mode != ModeQuiet || !s.QuietTimerActive || s.PassTimerActive {
		t.Fatalf("snapshot = %+v, want quiet with quiet timer only", s)
	}

	summary := rec.lastEnded()
	if summary.Reason != EndNackLimit {
		t.Errorf("end reason = %q, want nack_limit", summary.Reason)
	}
	if summary.NacksReceived != DefaultNackErrorLimit {
		t.Errorf("NacksReceived = %d, want %d", summary.NacksReceived, DefaultNackErrorLimit)
	}
	// Ack, first frame, two resends.
	if summary.FramesTransmitted != 4 {
		t.Errorf("FramesTransmitted = %d, want 4", summary.FramesTransmitted)
	}
	if got := mc.Snapshot().PassesAborted; got != 1 {
		t.Errorf("PassesAborted = %d, want 1", got)
	}
}

func TestMachine_Timeouts(t *testing.T) {
	rec := &recorder{}
	mc := metrics.NewCollector("test", "memory", "memory")
	h := startMachine(t,
		WithDurations(30*time.Millisecond, 30*time.Millisecond),
		WithObserver(rec),
		WithMetrics(mc),
	)

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.eventually(t, "pass timeout", func(s Snapshot) bool {
		return s.State.Mode != ModeTelecommand
	})
	h.eventually(t, "quiet timeout", func(s Snapshot) bool {
		return s.State.Mode == ModeIdle && !s.QuietTimerActive
	})

	if got := rec.lastEnded().Reason; got != EndTimeout {
		t.Errorf("end reason = %q, want timeout", got)
	}
	if got := mc.Snapshot().PassesCompleted; got != 1 {
		t.Errorf("PassesCompleted = %d, want 1", got)
	}
}

func TestMachine_BeginPassRestartsTimer(t *testing.T) {
	h := startMachine(t, WithDurations(200*time.Millisecond, time.Hour))

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.next(t)
	time.Sleep(120 * time.Millisecond)
	h.dispatch(t, Event{Kind: EventBeginPass})
	time.Sleep(120 * time.Millisecond)

	if s := h.snapshot(t); s.State.Mode != ModeTelecommand {
		t.Fatalf("mode = %s, want telecommand after restart", s.State.Mode)
	}
	h.eventually(t, "restarted pass timeout", func(s Snapshot) bool {
		return s.State.Mode == ModeQuiet
	})
}

func TestMachine_Hooks(t *testing.T) {
	var mu sync.Mutex
	var gotTime uint64
	var gotDevice uint32
	var gotHard bool
	hooks := Hooks{
		SetTime: func(unix uint64) error {
			mu.Lock()
			defer mu.Unlock()
			gotTime = unix
			return nil
		},
		Reset: func(device uint32, hard bool) error {
			mu.Lock()
			defer mu.Unlock()
			gotDevice, gotHard = device, hard
			return errors.New("reset unavailable")
		},
	}
	h := startMachine(t, WithHooks(hooks))

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.next(t)
	h.dispatch(t, Event{Kind: EventUpdateTime, UnixTime: 1_900_000_000})
	if _, ok := h.protocolBody(t, h.next(t)).(types.Ack); !ok {
		t.Fatal("UpdateTime not acknowledged")
	}
	h.dispatch(t, Event{Kind: EventReset, Device: 3, Hard: true})
	if _, ok := h.protocolBody(t, h.next(t)).(types.Ack); !ok {
		t.Fatal("Reset not acknowledged")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotTime != 1_900_000_000 {
		t.Errorf("SetTime got %d", gotTime)
	}
	if gotDevice != 3 || !gotHard {
		t.Errorf("Reset got device=%d hard=%v", gotDevice, gotHard)
	}
}

func TestMachine_SendNack(t *testing.T) {
	mc := metrics.NewCollector("test", "memory", "memory")
	h := startMachine(t, WithMetrics(mc))

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.next(t)
	h.dispatch(t, Event{Kind: EventSendNack})
	if _, ok := h.protocolBody(t, h.next(t)).(types.Nack); !ok {
		t.Fatal("SendNack did not downlink a Nack")
	}
	if got := mc.Snapshot().NacksSent; got != 1 {
		t.Errorf("NacksSent = %d, want 1", got)
	}
}

func TestMachine_ShutdownEndsPass(t *testing.T) {
	rec := &recorder{}
	h := startMachine(t, WithObserver(rec))

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.snapshot(t)
	h.stop(t)

	if got := rec.lastEnded().Reason; got != EndShutdown {
		t.Fatalf("end reason = %q, want shutdown", got)
	}
	if err := h.m.Dispatch(context.Background(), Event{Kind: EventBeginPass}); !errors.Is(err, ErrStopped) {
		t.Errorf("Dispatch after stop = %v, want ErrStopped", err)
	}
	if _, err := h.m.NextFrame(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("NextFrame after stop = %v, want ErrStopped", err)
	}
	if _, err := h.m.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Snapshot after stop = %v, want ErrStopped", err)
	}
}

func TestMachine_NackSilentPolicy(t *testing.T) {
	h := startMachine(t, WithRules(Rules{NackErrorLimit: 5, NackPolicy: NackSilent}))

	h.dispatch(t, Event{Kind: EventBeginPass})
	h.next(t)
	h.dispatch(t, Event{Kind: EventBeginFileTransfer})
	h.addReport(t, 1)
	h.dispatch(t, Event{Kind: EventAckReceived})
	if h.next(t) == nil {
		t.Fatal("expected first frame")
	}
	h.dispatch(t, Event{Kind: EventNackReceived})
	if b := h.next(t); b != nil {
		t.Fatalf("silent policy sent %x", b)
	}
}

func TestOneShot_Fired(t *testing.T) {
	var o oneShot
	if o.fired(time.Now()) {
		t.Fatal("unarmed timer reported fired")
	}

	o.start(time.Hour, func() {})
	defer o.stop()
	if o.fired(time.Now()) {
		t.Fatal("expiry before deadline accepted")
	}
	if !o.fired(time.Now().Add(2 * time.Hour)) {
		t.Fatal("expiry after deadline rejected")
	}
	if o.armed || o.fired(time.Now().Add(2*time.Hour)) {
		t.Fatal("fired did not disarm")
	}

	o.start(time.Hour, func() {})
	o.stop()
	if o.fired(time.Now().Add(2 * time.Hour)) {
		t.Fatal("stopped timer reported fired")
	}
}
