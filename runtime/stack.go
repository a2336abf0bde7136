package runtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/justapithecus/radsat/adapter"
	"github.com/justapithecus/radsat/comms"
	"github.com/justapithecus/radsat/filetransfer"
	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/iox"
	"github.com/justapithecus/radsat/journal"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/protocol"
	"github.com/justapithecus/radsat/transceiver"
)

// DefaultShutdownTimeout bounds the final journal flush and publishes.
const DefaultShutdownTimeout = 5 * time.Second

// ErrNoLink is returned by NewStack without a transceiver.
var ErrNoLink = errors.New("runtime: transceiver is required")

// Config configures a Stack.
type Config struct {
	// Node names this spacecraft in journal records and events.
	Node string
	// Link is the radio (required). The stack closes it.
	Link transceiver.Transceiver
	// Codec frames all traffic (default: no key, host clock).
	Codec *frame.Codec
	// QueueCapacity is the FIFO size including the current slot.
	QueueCapacity int
	// Rules are the transition rules (default comms.DefaultRules).
	Rules *comms.Rules

	PassDuration  time.Duration
	QuietDuration time.Duration
	RxInterval    time.Duration
	TxShortSleep  time.Duration
	Bitrate       int

	// TelemetryInterval is the OBC housekeeping period. Negative disables
	// the telemetry task.
	TelemetryInterval time.Duration
	// Sampler produces housekeeping (default ObcSampler). An ObcSampler
	// without a Mode func reports the machine's mode.
	Sampler Sampler

	// Journal and Adapter are optional. The stack closes them.
	Journal *journal.Journal
	Adapter adapter.Adapter

	Hooks           comms.Hooks
	ShutdownTimeout time.Duration
	Logger          *log.Logger
	Collector       *metrics.Collector
}

// Stack is the assembled communication subsystem.
type Stack struct {
	cfg       Config
	queue     *filetransfer.Queue
	proto     *protocol.Service
	machine   *comms.Machine
	observer  *PassObserver
	rx        *RxTask
	tx        *TxTask
	telemetry *TelemetryTask
}

// NewStack builds a stack from cfg.
func NewStack(cfg Config) (*Stack, error) {
	if cfg.Link == nil {
		return nil, ErrNoLink
	}
	if cfg.Codec == nil {
		cfg.Codec = frame.NewCodec()
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = filetransfer.DefaultMaxFrameCount
	}
	if cfg.PassDuration <= 0 {
		cfg.PassDuration = comms.DefaultMaxPassModeDuration
	}
	if cfg.QuietDuration <= 0 {
		cfg.QuietDuration = comms.DefaultMaxQuietModeDuration
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	rules := comms.DefaultRules()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}

	queue, err := filetransfer.NewQueue(cfg.Codec, cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}
	proto := protocol.New(cfg.Codec)
	observer := NewPassObserver(cfg.Node, cfg.Journal, cfg.Adapter,
		cfg.Logger.With(map[string]any{"component": "observer"}), cfg.Collector)
	machine := comms.NewMachine(queue, proto,
		comms.WithRules(rules),
		comms.WithDurations(cfg.PassDuration, cfg.QuietDuration),
		comms.WithLogger(cfg.Logger.With(map[string]any{"component": "comms"})),
		comms.WithMetrics(cfg.Collector),
		comms.WithObserver(observer),
		comms.WithHooks(cfg.Hooks),
	)

	s := &Stack{
		cfg:      cfg,
		queue:    queue,
		proto:    proto,
		machine:  machine,
		observer: observer,
	}
	s.rx = NewRxTask(RxConfig{
		Link:        cfg.Link,
		Protocol:    proto,
		Machine:     machine,
		Interval:    cfg.RxInterval,
		Journal:     cfg.Journal,
		CurrentPass: observer.CurrentPass,
		Logger:      cfg.Logger.With(map[string]any{"component": "rx"}),
		Collector:   cfg.Collector,
	})
	s.tx = NewTxTask(TxConfig{
		Link:        cfg.Link,
		Machine:     machine,
		ShortSleep:  cfg.TxShortSleep,
		Bitrate:     cfg.Bitrate,
		Journal:     cfg.Journal,
		CurrentPass: observer.CurrentPass,
		Logger:      cfg.Logger.With(map[string]any{"component": "tx"}),
		Collector:   cfg.Collector,
	})
	if cfg.TelemetryInterval >= 0 {
		sampler := cfg.Sampler
		if sampler == nil {
			sampler = &ObcSampler{Start: time.Now()}
		}
		if obc, ok := sampler.(*ObcSampler); ok && obc.Mode == nil {
			obc.Mode = s.mode
		}
		s.telemetry = NewTelemetryTask(TelemetryConfig{
			Queue:     queue,
			Sampler:   sampler,
			Interval:  cfg.TelemetryInterval,
			Logger:    cfg.Logger.With(map[string]any{"component": "telemetry"}),
			Collector: cfg.Collector,
		})
	}
	return s, nil
}

// Queue returns the downlink FIFO.
func (s *Stack) Queue() *filetransfer.Queue { return s.queue }

// Machine returns the communication state machine.
func (s *Stack) Machine() *comms.Machine { return s.machine }

// CurrentPass returns the open pass ID, or "".
func (s *Stack) CurrentPass() string { return s.observer.CurrentPass() }

func (s *Stack) mode(ctx context.Context) uint32 {
	snap, err := s.machine.Snapshot(ctx)
	if err != nil {
		return 0
	}
	return uint32(snap.State.Mode)
}

// Run starts every task and blocks until ctx is done. Shutdown stops the
// tasks, then the machine (closing any open pass), then drains finished
// passes into the journal and adapter, and finally closes the journal,
// adapter and link.
func (s *Stack) Run(ctx context.Context) error {
	logger := s.cfg.Logger
	logger.Info("stack starting", map[string]any{
		"node":           s.cfg.Node,
		"queue_capacity": s.queue.Capacity(),
	})

	machineCtx, stopMachine := context.WithCancel(context.WithoutCancel(ctx))
	machineDone := make(chan struct{})
	go func() {
		defer close(machineDone)
		_ = s.machine.Run(machineCtx)
	}()

	drainCtx, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDrain()
	observerDone := make(chan struct{})
	go func() {
		defer close(observerDone)
		s.observer.Run(drainCtx)
	}()

	var wg sync.WaitGroup
	run := func(f func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f(ctx)
		}()
	}
	run(s.rx.Run)
	run(s.tx.Run)
	if s.telemetry != nil {
		run(s.telemetry.Run)
	}

	<-ctx.Done()
	logger.Info("stack stopping", nil)
	wg.Wait()

	stopMachine()
	<-machineDone
	s.observer.Stop()

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-observerDone:
	case <-timer.C:
		logger.Warn("pass drain timed out", map[string]any{"timeout": s.cfg.ShutdownTimeout.String()})
		cancelDrain()
		<-observerDone
	}

	var closers []io.Closer
	if s.cfg.Journal != nil {
		closers = append(closers, s.cfg.Journal)
	}
	if s.cfg.Adapter != nil {
		closers = append(closers, s.cfg.Adapter)
	}
	closers = append(closers, s.cfg.Link)
	err := iox.CloseAll(closers...)
	if err != nil {
		logger.Error("shutdown close failed", map[string]any{"error": err.Error()})
	}
	logger.Info("stack stopped", nil)
	return err
}
