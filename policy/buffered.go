package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferRecords is the maximum number of records to buffer.
	// Zero means no count limit.
	MaxBufferRecords int

	// MaxBufferBytes is the maximum estimated buffer size in bytes.
	// Zero means no byte limit. At least one limit must be set.
	MaxBufferBytes int64

	// FlushThreshold flushes from Ingest once this many records are
	// buffered. Zero disables threshold flushes.
	FlushThreshold int

	// Logger is an optional logger. If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBufferedConfig returns the journal defaults.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferRecords: 4096,
		MaxBufferBytes:   4 * 1024 * 1024,
		FlushThreshold:   512,
	}
}

// ErrBufferFull is returned when the buffer is full and the record may not
// be dropped.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable record")

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferRecords or MaxBufferBytes must be set")

// BufferedPolicy batches records and writes them on Flush.
//
// When the buffer is full an incoming droppable record is dropped. A
// non-droppable record evicts the oldest droppable one, or fails with
// ErrBufferFull if there is none. A failed flush keeps the buffer for the
// next attempt, so records may be written twice but are not lost.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu          sync.Mutex // guards buffer and stats
	buffer      []entry
	bufferBytes int64
	nextSeq     uint64
	stats       *statsRecorder

	// flushMu serializes flushes.
	flushMu sync.Mutex
}

type entry struct {
	seq uint64
	rec types.Record
}

// NewBufferedPolicy creates a buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferRecords <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		stats:  newStatsRecorder(),
	}, nil
}

// Ingest buffers rec, applying drop rules if the buffer is full.
func (p *BufferedPolicy) Ingest(ctx context.Context, rec types.Record) error {
	p.mu.Lock()
	p.stats.incTotalLocked()
	size := EstimateSize(rec)

	if !p.hasRoom(size) {
		kind := rec.RecordKind()
		if IsDroppable(kind) {
			p.stats.incDroppedLocked(kind)
			p.mu.Unlock()
			p.logDrop(kind, "buffer_full")
			return nil
		}
		if !p.dropOldestDroppable() || !p.hasRoomForBytes(size) {
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			p.logOverflow(kind)
			return ErrBufferFull
		}
	}

	p.nextSeq++
	p.buffer = append(p.buffer, entry{seq: p.nextSeq, rec: rec})
	p.bufferBytes += size
	flush := p.config.FlushThreshold > 0 && len(p.buffer) >= p.config.FlushThreshold
	p.mu.Unlock()

	if flush {
		// A failed flush keeps the buffer; the next trigger retries.
		_ = p.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered records. Records ingested while the write is in
// progress stay buffered for the next flush.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.stats.incFlushLocked()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := make([]types.Record, len(p.buffer))
	for i, e := range p.buffer {
		batch[i] = e.rec
	}
	last := p.buffer[len(p.buffer)-1].seq
	p.mu.Unlock()

	if err := p.sink.WriteRecords(ctx, batch); err != nil {
		p.mu.Lock()
		p.stats.incErrorsLocked()
		p.mu.Unlock()
		p.logFlushFailure(len(batch), err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.incPersistedLocked(int64(len(batch)))
	p.removeWritten(last)
	return nil
}

// removeWritten drops buffered entries up to and including seq. An
// eviction during the write may have removed some of them already. Caller
// must hold mu.
func (p *BufferedPolicy) removeWritten(seq uint64) {
	i := 0
	for i < len(p.buffer) && p.buffer[i].seq <= seq {
		i++
	}
	p.buffer = append(p.buffer[:0], p.buffer[i:]...)
	p.recalculateBufferBytes()
}

func (p *BufferedPolicy) recalculateBufferBytes() {
	var total int64
	for _, e := range p.buffer {
		total += EstimateSize(e.rec)
	}
	p.bufferBytes = total
}

// Close flushes remaining records and closes the sink.
func (p *BufferedPolicy) Close() error {
	flushErr := p.Flush(context.Background())
	if err := p.sink.Close(); err != nil {
		return err
	}
	return flushErr
}

// Stats returns policy statistics captured with the buffer size at the
// same instant.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(p.bufferBytes)
}

func (p *BufferedPolicy) hasRoom(size int64) bool {
	if p.config.MaxBufferRecords > 0 && len(p.buffer) >= p.config.MaxBufferRecords {
		return false
	}
	return p.hasRoomForBytes(size)
}

func (p *BufferedPolicy) hasRoomForBytes(size int64) bool {
	return p.config.MaxBufferBytes <= 0 || p.bufferBytes+size <= p.config.MaxBufferBytes
}

// dropOldestDroppable evicts the oldest droppable record. Caller must hold mu.
func (p *BufferedPolicy) dropOldestDroppable() bool {
	for i, e := range p.buffer {
		kind := e.rec.RecordKind()
		if !IsDroppable(kind) {
			continue
		}
		p.buffer = append(p.buffer[:i], p.buffer[i+1:]...)
		p.bufferBytes -= EstimateSize(e.rec)
		p.stats.incDroppedLocked(kind)
		if p.logger != nil {
			p.logger.Warn("record evicted", map[string]any{
				"record_kind": string(kind),
				"reason":      "evicted_for_non_droppable",
				"policy":      "buffered",
			})
		}
		return true
	}
	return false
}

func (p *BufferedPolicy) logDrop(kind types.RecordKind, reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("record dropped", map[string]any{
		"record_kind": string(kind),
		"reason":      reason,
		"policy":      "buffered",
	})
}

func (p *BufferedPolicy) logOverflow(kind types.RecordKind) {
	if p.logger == nil {
		return
	}
	p.logger.Error("buffer overflow", map[string]any{
		"record_kind": string(kind),
		"policy":      "buffered",
	})
}

func (p *BufferedPolicy) logFlushFailure(n int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("flush failed", map[string]any{
		"records": n,
		"error":   err.Error(),
		"policy":  "buffered",
	})
}
