package journal

import (
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/radsat/types"
)

// DeriveDay computes the day partition of t: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// toRecordMap converts rec to its stored form. Every record carries the
// partition keys and a unique record_id.
func toRecordMap(rec types.Record, node string) map[string]any {
	passID, at := rec.Partition()
	if passID == "" {
		passID = types.NoPass
	}
	m := map[string]any{
		"record_kind": string(rec.RecordKind()),
		"record_id":   uuid.NewString(),
		"pass_id":     passID,
		"day":         DeriveDay(at),
		"node":        node,
	}

	switch r := rec.(type) {
	case types.FrameRecord:
		addFrame(m, &r)
	case *types.FrameRecord:
		addFrame(m, r)
	case types.PassRecord:
		addPass(m, &r)
	case *types.PassRecord:
		addPass(m, r)
	}
	return m
}

func addFrame(m map[string]any, r *types.FrameRecord) {
	m["direction"] = string(r.Direction)
	m["ts"] = r.Ts.UTC().Format(time.RFC3339Nano)
	m["size"] = r.Size
	m["hex"] = r.Hex
	if r.Command != "" {
		m["command"] = r.Command
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
}

func addPass(m map[string]any, r *types.PassRecord) {
	if r.Node != "" {
		m["node"] = r.Node
	}
	m["reason"] = r.Reason
	m["started_at"] = r.StartedAt.UTC().Format(time.RFC3339Nano)
	m["ended_at"] = r.EndedAt.UTC().Format(time.RFC3339Nano)
	m["duration_ms"] = r.EndedAt.Sub(r.StartedAt).Milliseconds()
	m["pass_length"] = r.PassLength
	m["frames_received"] = r.FramesReceived
	m["frames_transmitted"] = r.FramesTransmitted
	m["nacks_received"] = r.NacksReceived
}
