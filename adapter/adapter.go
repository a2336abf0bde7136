// Package adapter defines the pass notification boundary.
//
// Adapters publish pass completion notifications to downstream systems such
// as mission control dashboards. The runtime owns adapter lifecycle; users
// provide configuration only.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/radsat/types"
)

// EventTypePassCompleted is the event_type of every pass notification.
const EventTypePassCompleted = "pass_completed"

// DefaultBackoff is the delay before the first retry. Each further retry
// doubles it.
const DefaultBackoff = 500 * time.Millisecond

// PassCompletedEvent is the payload published when a pass ends.
type PassCompletedEvent struct {
	ContractVersion   string `json:"contract_version"`
	EventType         string `json:"event_type"` // always "pass_completed"
	PassID            string `json:"pass_id"`
	Node              string `json:"node"`
	Reason            string `json:"reason"`     // timeout, nack_limit, ceased or shutdown
	StartedAt         string `json:"started_at"` // RFC 3339
	EndedAt           string `json:"ended_at"`
	DurationMs        int64  `json:"duration_ms"`
	FramesReceived    int    `json:"frames_received"`
	FramesTransmitted int    `json:"frames_transmitted"`
	NacksReceived     int    `json:"nacks_received"`
}

// NewPassCompletedEvent builds the notification for a finished pass.
func NewPassCompletedEvent(rec types.PassRecord) *PassCompletedEvent {
	return &PassCompletedEvent{
		ContractVersion:   types.ContractVersion,
		EventType:         EventTypePassCompleted,
		PassID:            rec.PassID,
		Node:              rec.Node,
		Reason:            rec.Reason,
		StartedAt:         rec.StartedAt.UTC().Format(time.RFC3339Nano),
		EndedAt:           rec.EndedAt.UTC().Format(time.RFC3339Nano),
		DurationMs:        rec.EndedAt.Sub(rec.StartedAt).Milliseconds(),
		FramesReceived:    rec.FramesReceived,
		FramesTransmitted: rec.FramesTransmitted,
		NacksReceived:     rec.NacksReceived,
	}
}

// Adapter publishes pass completion events to a downstream system.
type Adapter interface {
	// Publish sends a pass completion event downstream.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *PassCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Wait sleeps before retry attempt i (1-based), doubling base each attempt.
// It returns early with the context error if ctx is done.
func Wait(ctx context.Context, base time.Duration, attempt int) error {
	if base <= 0 {
		base = DefaultBackoff
	}
	t := time.NewTimer(base << uint(attempt-1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Multi publishes to every adapter in turn. An adapter failure does not stop
// delivery to the rest; the failures are joined.
type Multi []Adapter

// Publish implements Adapter.
func (m Multi) Publish(ctx context.Context, event *PassCompletedEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Adapter.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close adapter: %w", err))
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)
