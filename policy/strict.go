package policy

import (
	"context"

	"github.com/justapithecus/radsat/types"
)

// StrictPolicy writes every record to the sink as it arrives. Nothing is
// buffered or dropped, and sink errors are returned to the caller.
type StrictPolicy struct {
	sink  Sink
	stats *statsRecorder
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, stats: newStatsRecorder()}
}

// Ingest writes rec immediately as a batch of one.
func (p *StrictPolicy) Ingest(ctx context.Context, rec types.Record) error {
	p.stats.incTotal()
	if err := p.sink.WriteRecords(ctx, []types.Record{rec}); err != nil {
		p.stats.incErrors()
		return err
	}
	p.stats.incPersisted(1)
	return nil
}

// Flush is a no-op; nothing is buffered.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close closes the sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}
