package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/journal"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/transceiver"
	"github.com/justapithecus/radsat/types"
)

// DefaultTxShortSleep is the Tx cycle period while the radio has room.
const DefaultTxShortSleep = 10 * time.Millisecond

// FrameSource yields downlink frames. A nil frame means nothing to send.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// TxConfig configures a TxTask.
type TxConfig struct {
	// Link is the radio to transmit on (required).
	Link transceiver.Transceiver
	// Machine supplies the frames (required).
	Machine FrameSource
	// ShortSleep is the cycle period while transmit slots remain
	// (default 10ms).
	ShortSleep time.Duration
	// Bitrate sizes the backoff when the transmit buffer fills: one
	// maximum-size frame of airtime. Zero uses the transceiver default.
	Bitrate int
	// Journal records every transmitted frame, if set.
	Journal *journal.Journal
	// CurrentPass names the open pass for journal records.
	CurrentPass func() string
	Logger      *log.Logger
	Collector   *metrics.Collector
	// Now is the transmit clock (default time.Now).
	Now func() time.Time
}

// TxTask is the downlink loop.
type TxTask struct {
	cfg       TxConfig
	longSleep time.Duration
}

// NewTxTask creates a Tx task.
func NewTxTask(cfg TxConfig) *TxTask {
	if cfg.ShortSleep <= 0 {
		cfg.ShortSleep = DefaultTxShortSleep
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = transceiver.DefaultBitrate
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
	long := transceiver.Airtime(frame.TransceiverMaxFrameSize, cfg.Bitrate)
	if long < cfg.ShortSleep {
		long = cfg.ShortSleep
	}
	return &TxTask{cfg: cfg, longSleep: long}
}

// Run cycles until ctx is done, sleeping as Cycle directs.
func (t *TxTask) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		timer.Reset(t.Cycle(ctx))
	}
}

// Cycle sends at most one frame and returns how long to sleep before the
// next cycle: short while the radio has free slots, one frame of airtime
// once its buffer is full.
func (t *TxTask) Cycle(ctx context.Context) time.Duration {
	b, err := t.cfg.Machine.NextFrame(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.cfg.Logger.Error("next frame failed", map[string]any{"error": err.Error()})
		}
		return t.cfg.ShortSleep
	}
	if len(b) == 0 {
		return t.cfg.ShortSleep
	}

	remaining, err := t.cfg.Link.SendFrame(ctx, b)
	if err != nil {
		t.cfg.Collector.IncTransceiverError()
		t.cfg.Logger.Warn("send frame failed", map[string]any{
			"size":  len(b),
			"error": err.Error(),
		})
		if errors.Is(err, transceiver.ErrTxBufferFull) {
			return t.longSleep
		}
		return t.cfg.ShortSleep
	}

	t.cfg.Collector.IncFrameTransmitted()
	if t.cfg.Journal != nil {
		t.cfg.Journal.RecordFrame(ctx, t.cfg.CurrentPass(), types.DirectionDownlink, t.cfg.Now(), b, "", nil)
	}
	if remaining > 0 {
		return t.cfg.ShortSleep
	}
	return t.longSleep
}
