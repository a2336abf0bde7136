package journal

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/policy"
	"github.com/justapithecus/radsat/types"
)

// Journal records link traffic through a write policy.
type Journal struct {
	policy policy.Policy
	node   string
	logger *log.Logger
}

// New creates a journal writing through pol.
func New(pol policy.Policy, node string, logger *log.Logger) *Journal {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Journal{policy: pol, node: node, logger: logger}
}

// RecordFrame journals a frame seen at ts. Frames outside a pass use an
// empty passID. command and decodeErr describe uplink frames and may be
// empty. Failures are logged; frame records are best effort.
func (j *Journal) RecordFrame(ctx context.Context, passID string, dir types.Direction, ts time.Time, frame []byte, command string, decodeErr error) {
	rec := types.FrameRecord{
		PassID:    passID,
		Direction: dir,
		Ts:        ts,
		Size:      len(frame),
		Hex:       hex.EncodeToString(frame),
		Command:   command,
	}
	if decodeErr != nil {
		rec.Error = decodeErr.Error()
	}
	if err := j.policy.Ingest(ctx, rec); err != nil {
		j.logger.Warn("journal frame record failed", map[string]any{
			"pass_id":   passID,
			"direction": string(dir),
			"error":     err.Error(),
		})
	}
}

// RecordPass journals a pass summary and flushes the journal.
func (j *Journal) RecordPass(ctx context.Context, rec types.PassRecord) error {
	if rec.Node == "" {
		rec.Node = j.node
	}
	if err := j.policy.Ingest(ctx, rec); err != nil {
		return err
	}
	return j.policy.Flush(ctx)
}

// Flush writes any buffered records.
func (j *Journal) Flush(ctx context.Context) error {
	return j.policy.Flush(ctx)
}

// Close flushes and closes the underlying policy.
func (j *Journal) Close() error {
	return j.policy.Close()
}

// Stats returns the write policy counters.
func (j *Journal) Stats() policy.Stats {
	return j.policy.Stats()
}
