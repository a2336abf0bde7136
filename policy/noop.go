package policy

import (
	"context"

	"github.com/justapithecus/radsat/types"
)

// NoopPolicy accepts records without persisting them. Droppable records
// count as dropped and the rest as persisted, so stats keep the same
// meaning as the other policies.
type NoopPolicy struct {
	stats *statsRecorder
}

// NewNoopPolicy creates a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: newStatsRecorder()}
}

// Ingest counts rec.
func (p *NoopPolicy) Ingest(_ context.Context, rec types.Record) error {
	p.stats.incTotal()
	if IsDroppable(rec.RecordKind()) {
		p.stats.incDropped(rec.RecordKind())
		return nil
	}
	p.stats.incPersisted(1)
	return nil
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats returns the policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}
