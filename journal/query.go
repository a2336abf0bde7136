package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/radsat/types"
)

// ErrEmpty is returned when the journal holds no matching records.
var ErrEmpty = errors.New("journal has no matching records")

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Day    string
	PassID string
}

// Stats aggregates journal contents.
type Stats struct {
	Passes            int64            `json:"passes"`
	PassesByReason    map[string]int64 `json:"passes_by_reason"`
	FramesReceived    int64            `json:"frames_received"`
	FramesTransmitted int64            `json:"frames_transmitted"`
	NacksReceived     int64            `json:"nacks_received"`
	UplinkFrames      int64            `json:"uplink_frames"`
	UplinkBytes       int64            `json:"uplink_bytes"`
	RejectedFrames    int64            `json:"rejected_frames"`
	DownlinkFrames    int64            `json:"downlink_frames"`
	DownlinkBytes     int64            `json:"downlink_bytes"`
	Commands          map[string]int64 `json:"commands"`
	// TotalPassTime is the summed duration of all passes.
	TotalPassTime time.Duration `json:"total_pass_time_ns"`
	FirstPassAt   time.Time     `json:"first_pass_at,omitzero"`
	LastPassAt    time.Time     `json:"last_pass_at,omitzero"`
	Snapshots     int           `json:"snapshots"`
}

// QueryStats reads every snapshot matching f and aggregates its records.
// Records are deduplicated by record_id, so overlapping snapshots are
// counted once.
func QueryStats(ctx context.Context, ds lode.Dataset, f Filter) (*Stats, error) {
	st := &Stats{
		PassesByReason: make(map[string]int64),
		Commands:       make(map[string]int64),
	}
	matched := 0
	snapshots, err := scan(ctx, ds, f, func(rec map[string]any) {
		if st.add(rec) {
			matched++
		}
	})
	if err != nil {
		return nil, err
	}
	st.Snapshots = snapshots

	if matched == 0 {
		return nil, ErrEmpty
	}
	return st, nil
}

// ListPasses returns the pass records matching f, oldest first.
func ListPasses(ctx context.Context, ds lode.Dataset, f Filter) ([]types.PassRecord, error) {
	var passes []types.PassRecord
	_, err := scan(ctx, ds, f, func(rec map[string]any) {
		if types.RecordKind(toString(rec["record_kind"])) != types.RecordKindPass {
			return
		}
		passes = append(passes, parsePass(rec))
	})
	if err != nil {
		return nil, err
	}
	if len(passes) == 0 {
		return nil, ErrEmpty
	}
	sort.SliceStable(passes, func(i, j int) bool {
		return passes[i].StartedAt.Before(passes[j].StartedAt)
	})
	return passes, nil
}

// scan calls fn once per distinct record matching f and returns the number
// of snapshots read.
func scan(ctx context.Context, ds lode.Dataset, f Filter, fn func(map[string]any)) (int, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return 0, WrapReadError(err, DatasetID+"/snapshots")
	}

	seen := make(map[string]struct{})
	read := 0
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "day", f.Day) || !snapshotMatchesFilter(snap, "pass_id", f.PassID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return read, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", DatasetID, snap.ID))
		}
		read++

		for _, item := range data {
			rec, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if f.Day != "" && toString(rec["day"]) != f.Day {
				continue
			}
			if f.PassID != "" && toString(rec["pass_id"]) != f.PassID {
				continue
			}
			if id := toString(rec["record_id"]); id != "" {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			fn(rec)
		}
	}
	return read, nil
}

func parsePass(rec map[string]any) types.PassRecord {
	started, _ := time.Parse(time.RFC3339Nano, toString(rec["started_at"]))
	ended, _ := time.Parse(time.RFC3339Nano, toString(rec["ended_at"]))
	return types.PassRecord{
		PassID:            toString(rec["pass_id"]),
		Node:              toString(rec["node"]),
		Reason:            toString(rec["reason"]),
		StartedAt:         started,
		EndedAt:           ended,
		PassLength:        uint32(toInt64(rec["pass_length"])),
		FramesReceived:    int(toInt64(rec["frames_received"])),
		FramesTransmitted: int(toInt64(rec["frames_transmitted"])),
		NacksReceived:     int(toInt64(rec["nacks_received"])),
	}
}

// add folds one record into st, reporting whether it was recognized.
func (st *Stats) add(rec map[string]any) bool {
	switch types.RecordKind(toString(rec["record_kind"])) {
	case types.RecordKindFrame:
		size := toInt64(rec["size"])
		switch types.Direction(toString(rec["direction"])) {
		case types.DirectionUplink:
			st.UplinkFrames++
			st.UplinkBytes += size
			if toString(rec["error"]) != "" {
				st.RejectedFrames++
			}
			if cmd := toString(rec["command"]); cmd != "" {
				st.Commands[cmd]++
			}
		case types.DirectionDownlink:
			st.DownlinkFrames++
			st.DownlinkBytes += size
		}
		return true

	case types.RecordKindPass:
		st.Passes++
		st.PassesByReason[toString(rec["reason"])]++
		st.FramesReceived += toInt64(rec["frames_received"])
		st.FramesTransmitted += toInt64(rec["frames_transmitted"])
		st.NacksReceived += toInt64(rec["nacks_received"])
		st.TotalPassTime += time.Duration(toInt64(rec["duration_ms"])) * time.Millisecond
		if started, err := time.Parse(time.RFC3339Nano, toString(rec["started_at"])); err == nil {
			if st.FirstPassAt.IsZero() || started.Before(st.FirstPassAt) {
				st.FirstPassAt = started
			}
			if started.After(st.LastPassAt) {
				st.LastPassAt = started
			}
		}
		return true
	}
	return false
}

// snapshotMatchesFilter checks if any file in snap lies under the
// key=value partition.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// pass_id=a does not match pass_id=ab.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 accepts the numeric forms a JSONL round trip may produce.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case uint32:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
