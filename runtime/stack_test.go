package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/radsat/adapter"
	"github.com/justapithecus/radsat/comms"
	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/journal"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/policy"
	"github.com/justapithecus/radsat/transceiver"
	"github.com/justapithecus/radsat/types"
)

func newTestJournal(t *testing.T) (*journal.Journal, lode.Dataset) {
	t.Helper()
	store := lode.NewMemory()
	ds, err := journal.NewDataset(func() (lode.Store, error) { return store, nil })
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	pol, err := policy.NewBufferedPolicy(journal.NewSink(ds, "sat-1", nil), policy.DefaultBufferedConfig())
	if err != nil {
		t.Fatalf("NewBufferedPolicy failed: %v", err)
	}
	return journal.New(pol, "sat-1", nil), ds
}

type fakeAdapter struct {
	mu     sync.Mutex
	events []*adapter.PassCompletedEvent
	closed bool
}

func (a *fakeAdapter) Publish(_ context.Context, ev *adapter.PassCompletedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdapter) published() []*adapter.PassCompletedEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*adapter.PassCompletedEvent(nil), a.events...)
}

// ground plays the ground station against a memory link.
type ground struct {
	t     *testing.T
	link  *transceiver.Memory
	codec *frame.Codec
}

func (g *ground) send(m types.Message) {
	g.t.Helper()
	g.link.InjectRx(uplink(g.t, g.codec, m))
}

// receive waits for the next downlink frame and decodes it.
func (g *ground) receive() types.Message {
	g.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if sent := g.link.TakeSent(); len(sent) > 0 {
			if len(sent) > 1 {
				g.t.Fatalf("got %d downlink frames, want 1", len(sent))
			}
			f, err := g.codec.Unwrap(sent[0])
			if err != nil {
				g.t.Fatalf("downlink Unwrap failed: %v", err)
			}
			return f.Message
		}
		if time.Now().After(deadline) {
			g.t.Fatal("timed out waiting for downlink frame")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewStack_RequiresLink(t *testing.T) {
	if _, err := NewStack(Config{}); err != ErrNoLink {
		t.Fatalf("NewStack = %v, want ErrNoLink", err)
	}
}

func TestStack_Pass(t *testing.T) {
	link := transceiver.NewMemory(16, 16)
	codec := frame.NewCodec()
	j, ds := newTestJournal(t)
	ad := &fakeAdapter{}
	collector := metrics.NewCollector("sat-1", "memory", "memory")

	stack, err := NewStack(Config{
		Node:              "sat-1",
		Link:              link,
		Codec:             codec,
		QueueCapacity:     8,
		RxInterval:        time.Millisecond,
		TxShortSleep:      time.Millisecond,
		TelemetryInterval: -1,
		Journal:           j,
		Adapter:           ad,
		Collector:         collector,
	})
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}
	for i := range 2 {
		if err := stack.Queue().Add(types.ObcTelemetry{Uptime: uint32(i + 1)}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()

	g := &ground{t: t, link: link, codec: codec}

	g.send(&types.TelecommandMessage{Body: types.BeginPass{PassLength: 120}})
	if m, ok := g.receive().(*types.ProtocolMessage); !ok || m.Body != (types.Ack{Resp: 1}) {
		t.Fatalf("BeginPass answered with %+v, want Ack", m)
	}
	waitFor(t, "open pass", func() bool { return stack.CurrentPass() != "" })
	passID := stack.CurrentPass()

	g.send(&types.TelecommandMessage{Body: types.BeginFileTransfer{Resp: 1}})
	for i := range 2 {
		g.send(&types.ProtocolMessage{Body: types.Ack{Resp: 1}})
		m, ok := g.receive().(*types.FileTransferMessage)
		if !ok {
			t.Fatalf("frame %d is not file transfer: %+v", i, m)
		}
		if tel, ok := m.Body.(types.ObcTelemetry); !ok || tel.Uptime != uint32(i+1) {
			t.Errorf("frame %d body = %+v", i, m.Body)
		}
	}

	g.send(&types.TelecommandMessage{Body: types.CeaseTransmission{Duration: 60}})
	waitFor(t, "pass event", func() bool { return len(ad.published()) == 1 })

	ev := ad.published()[0]
	if ev.PassID != passID || ev.Reason != string(comms.EndCeased) || ev.Node != "sat-1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.FramesTransmitted != 3 {
		t.Errorf("FramesTransmitted = %d, want 3", ev.FramesTransmitted)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	st, err := journal.QueryStats(t.Context(), ds, journal.Filter{PassID: passID})
	if err != nil {
		t.Fatalf("QueryStats failed: %v", err)
	}
	if st.Passes != 1 || st.PassesByReason["ceased"] != 1 {
		t.Errorf("journal passes = %d %v", st.Passes, st.PassesByReason)
	}
	if st.DownlinkFrames != 3 {
		t.Errorf("journal downlink frames = %d, want 3", st.DownlinkFrames)
	}
	if !ad.closed {
		t.Error("adapter not closed")
	}
	if snap := collector.Snapshot(); snap.AdapterPublishSuccess != 1 || snap.PassesAborted != 1 {
		t.Errorf("publish/aborted = %d/%d, want 1/1", snap.AdapterPublishSuccess, snap.PassesAborted)
	}
}

func TestStack_ShutdownClosesOpenPass(t *testing.T) {
	link := transceiver.NewMemory(4, 4)
	codec := frame.NewCodec()
	ad := &fakeAdapter{}
	stack, err := NewStack(Config{
		Node:              "sat-1",
		Link:              link,
		Codec:             codec,
		RxInterval:        time.Millisecond,
		TxShortSleep:      time.Millisecond,
		TelemetryInterval: -1,
		Adapter:           ad,
	})
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()

	g := &ground{t: t, link: link, codec: codec}
	g.send(&types.TelecommandMessage{Body: types.BeginPass{PassLength: 60}})
	g.receive()
	waitFor(t, "open pass", func() bool { return stack.CurrentPass() != "" })

	cancel()
	<-done

	events := ad.published()
	if len(events) != 1 || events[0].Reason != string(comms.EndShutdown) {
		t.Fatalf("events = %+v, want one shutdown event", events)
	}
}
