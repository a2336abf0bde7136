package journal

import (
	"context"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/policy"
	"github.com/justapithecus/radsat/types"
)

// Sink writes record batches to the journal dataset. Each batch becomes one
// Lode snapshot. Write outcomes are counted on the collector, if set.
type Sink struct {
	dataset   lode.Dataset
	node      string
	collector *metrics.Collector
}

// NewSink creates a sink writing to ds on behalf of node.
func NewSink(ds lode.Dataset, node string, collector *metrics.Collector) *Sink {
	return &Sink{dataset: ds, node: node, collector: collector}
}

// WriteRecords implements policy.Sink.
func (s *Sink) WriteRecords(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRecordMap(r, s.node))
	}
	if _, err := s.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		s.collector.IncJournalWriteFailure()
		return WrapWriteError(err, string(s.dataset.ID()))
	}
	s.collector.IncJournalWriteSuccess()
	return nil
}

// Close implements policy.Sink. The dataset holds no resources.
func (s *Sink) Close() error {
	return nil
}

var _ policy.Sink = (*Sink)(nil)
