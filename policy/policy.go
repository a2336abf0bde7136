// Package policy defines how journal records reach storage.
//
// A Policy sits between the communication stack and a Sink. StrictPolicy
// writes every record through; BufferedPolicy batches records and flushes on
// a threshold, at pass end, and on close; NoopPolicy persists nothing.
//
// Frame records may be dropped under buffer pressure. Pass records must not
// be dropped: a pass record that cannot be buffered is an error.
package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/radsat/types"
)

// Policy controls buffering, dropping, and persistence of journal records.
type Policy interface {
	// Ingest accepts a record. Droppable records may be discarded when the
	// buffer is full; non-droppable records fail with an error instead.
	Ingest(ctx context.Context, rec types.Record) error

	// Flush writes any buffered records.
	Flush(ctx context.Context) error

	// Close flushes and releases the sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats are policy observability counters.
type Stats struct {
	// TotalRecords is the number of records ingested.
	TotalRecords int64 `json:"total_records"`
	// RecordsPersisted is the number of records written to the sink.
	RecordsPersisted int64 `json:"records_persisted"`
	// RecordsDropped is the number of records discarded.
	RecordsDropped int64 `json:"records_dropped"`
	// DroppedByKind maps record kinds to drop counts.
	DroppedByKind map[types.RecordKind]int64 `json:"dropped_by_kind"`
	// BufferSize is the estimated buffered size in bytes.
	BufferSize int64 `json:"buffer_size"`
	// FlushCount is the number of flush operations.
	FlushCount int64 `json:"flush_count"`
	// Errors is the count of sink and buffer errors.
	Errors int64 `json:"errors"`
}

var droppableKinds = map[types.RecordKind]bool{
	types.RecordKindFrame: true,
}

// IsDroppable reports whether records of kind may be dropped.
func IsDroppable(kind types.RecordKind) bool {
	return droppableKinds[kind]
}

// EstimateSize returns a rough encoded size of rec in bytes.
func EstimateSize(rec types.Record) int64 {
	switch r := rec.(type) {
	case types.FrameRecord:
		return int64(160 + len(r.Hex) + len(r.Command) + len(r.Error))
	case *types.FrameRecord:
		return int64(160 + len(r.Hex) + len(r.Command) + len(r.Error))
	default:
		return 320
	}
}

// statsRecorder holds counters behind its own mutex. BufferedPolicy uses
// the Locked variants while holding its buffer mutex instead.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{DroppedByKind: make(map[types.RecordKind]int64)},
	}
}

func (r *statsRecorder) incTotal() {
	r.mu.Lock()
	r.stats.TotalRecords++
	r.mu.Unlock()
}

func (r *statsRecorder) incPersisted(n int64) {
	r.mu.Lock()
	r.stats.RecordsPersisted += n
	r.mu.Unlock()
}

func (r *statsRecorder) incDropped(kind types.RecordKind) {
	r.mu.Lock()
	r.incDroppedLocked(kind)
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.stats.BufferSize)
}

func (r *statsRecorder) incTotalLocked() {
	r.stats.TotalRecords++
}

func (r *statsRecorder) incPersistedLocked(n int64) {
	r.stats.RecordsPersisted += n
}

func (r *statsRecorder) incErrorsLocked() {
	r.stats.Errors++
}

func (r *statsRecorder) incFlushLocked() {
	r.stats.FlushCount++
}

func (r *statsRecorder) incDroppedLocked(k types.RecordKind) {
	r.stats.RecordsDropped++
	r.stats.DroppedByKind[k]++
}

func (r *statsRecorder) snapshotLocked(bufferSize int64) Stats {
	s := r.stats
	s.BufferSize = bufferSize
	s.DroppedByKind = make(map[types.RecordKind]int64, len(r.stats.DroppedByKind))
	for k, v := range r.stats.DroppedByKind {
		s.DroppedByKind[k] = v
	}
	return s
}
