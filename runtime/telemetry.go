package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/radsat/filetransfer"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/types"
)

// DefaultTelemetryInterval is the OBC housekeeping period.
const DefaultTelemetryInterval = 10 * time.Second

// Sampler produces one housekeeping record.
type Sampler interface {
	Sample(ctx context.Context) (types.FileTransferBody, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (types.FileTransferBody, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(ctx context.Context) (types.FileTransferBody, error) {
	return f(ctx)
}

// ObcSampler reports onboard computer housekeeping from the host clock.
type ObcSampler struct {
	// Start is the boot instant uptime is measured from.
	Start time.Time
	// BootCount is reported as-is.
	BootCount uint32
	// Mode returns the current pass mode, if set.
	Mode func(ctx context.Context) uint32
	// Now is the RTC (default time.Now).
	Now func() time.Time
}

// Sample implements Sampler.
func (s *ObcSampler) Sample(ctx context.Context) (types.FileTransferBody, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	tel := types.ObcTelemetry{
		Uptime:    uint32(t.Sub(s.Start) / time.Second),
		RtcTime:   uint64(t.Unix()),
		BootCount: s.BootCount,
	}
	if s.Mode != nil {
		tel.Mode = s.Mode(ctx)
	}
	return tel, nil
}

// TelemetryConfig configures a TelemetryTask.
type TelemetryConfig struct {
	Queue    *filetransfer.Queue
	Sampler  Sampler
	Interval time.Duration
	Logger   *log.Logger
	// Collector counts enqueued and dropped records.
	Collector *metrics.Collector
}

// TelemetryTask periodically enqueues housekeeping into the downlink FIFO.
type TelemetryTask struct {
	cfg TelemetryConfig
}

// NewTelemetryTask creates a telemetry task.
func NewTelemetryTask(cfg TelemetryConfig) *TelemetryTask {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTelemetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &TelemetryTask{cfg: cfg}
}

// Run samples every Interval until ctx is done.
func (t *TelemetryTask) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Cycle(ctx)
		}
	}
}

// Cycle takes one sample and queues it. A full FIFO drops the sample;
// the overflow is counted and logged, never reported over the link.
func (t *TelemetryTask) Cycle(ctx context.Context) error {
	body, err := t.cfg.Sampler.Sample(ctx)
	if err != nil {
		t.cfg.Logger.Warn("telemetry sample failed", map[string]any{"error": err.Error()})
		return err
	}
	err = t.cfg.Queue.Add(body)
	switch {
	case err == nil:
		t.cfg.Collector.IncTelemetryEnqueued()
	case errors.Is(err, filetransfer.ErrCursorOverflow):
		t.cfg.Collector.IncFIFOOverflow()
		t.cfg.Collector.IncTelemetryDropped()
		t.cfg.Logger.Debug("telemetry dropped", map[string]any{
			"kind":   body.FileTransferTag().String(),
			"reason": "fifo_full",
		})
	default:
		t.cfg.Collector.IncTelemetryDropped()
		t.cfg.Logger.Error("telemetry enqueue failed", map[string]any{
			"kind":  body.FileTransferTag().String(),
			"error": err.Error(),
		})
	}
	return err
}
