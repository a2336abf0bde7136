package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/radsat/adapter"
	"github.com/justapithecus/radsat/comms"
	"github.com/justapithecus/radsat/journal"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/types"
)

// passBacklog bounds the finished passes awaiting the worker.
const passBacklog = 16

// PassObserver tracks the open pass and hands finished passes to a worker
// that journals them and publishes a PassCompletedEvent.
//
// The comms machine calls PassStarted and PassEnded on its own goroutine, so
// neither method blocks: a summary that finds the backlog full is logged and
// dropped.
type PassObserver struct {
	node      string
	journal   *journal.Journal
	adapter   adapter.Adapter
	logger    *log.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	current string

	ended chan comms.PassSummary
	once  sync.Once
}

// NewPassObserver creates an observer. Journal and adapter are optional.
func NewPassObserver(node string, j *journal.Journal, a adapter.Adapter, logger *log.Logger, c *metrics.Collector) *PassObserver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PassObserver{
		node:      node,
		journal:   j,
		adapter:   a,
		logger:    logger,
		collector: c,
		ended:     make(chan comms.PassSummary, passBacklog),
	}
}

// PassStarted implements comms.Observer.
func (o *PassObserver) PassStarted(info comms.PassInfo) {
	o.mu.Lock()
	o.current = info.ID
	o.mu.Unlock()
}

// PassEnded implements comms.Observer.
func (o *PassObserver) PassEnded(s comms.PassSummary) {
	o.mu.Lock()
	if o.current == s.ID {
		o.current = ""
	}
	o.mu.Unlock()

	select {
	case o.ended <- s:
	default:
		o.logger.Warn("pass summary dropped", map[string]any{
			"pass_id": s.ID,
			"reason":  "backlog_full",
		})
	}
}

// CurrentPass returns the open pass ID, or "" outside a pass.
func (o *PassObserver) CurrentPass() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Run processes finished passes until Stop is called and the backlog is
// drained. ctx bounds each journal write and publish.
func (o *PassObserver) Run(ctx context.Context) {
	for s := range o.ended {
		o.complete(ctx, s)
	}
}

// Stop ends Run once the backlog is drained. The machine must have stopped.
func (o *PassObserver) Stop() {
	o.once.Do(func() { close(o.ended) })
}

func (o *PassObserver) complete(ctx context.Context, s comms.PassSummary) {
	rec := PassRecord(o.node, s)
	logger := o.logger.With(map[string]any{"pass_id": s.ID})

	if o.journal != nil {
		if err := o.journal.RecordPass(ctx, rec); err != nil {
			logger.Error("journal pass record failed", map[string]any{"error": err.Error()})
		}
	}
	if o.adapter == nil {
		return
	}
	if err := o.adapter.Publish(ctx, adapter.NewPassCompletedEvent(rec)); err != nil {
		o.collector.IncAdapterPublishFailure()
		logger.Error("pass event publish failed", map[string]any{"error": err.Error()})
		return
	}
	o.collector.IncAdapterPublishSuccess()
	logger.Debug("pass event published", nil)
}

// PassRecord converts a machine pass summary to its journal record.
func PassRecord(node string, s comms.PassSummary) types.PassRecord {
	return types.PassRecord{
		PassID:            s.ID,
		Node:              node,
		Reason:            string(s.Reason),
		StartedAt:         s.StartedAt.UTC().Truncate(time.Millisecond),
		EndedAt:           s.EndedAt.UTC().Truncate(time.Millisecond),
		PassLength:        s.PassLength,
		FramesReceived:    s.FramesReceived,
		FramesTransmitted: s.FramesTransmitted,
		NacksReceived:     s.NacksReceived,
	}
}
