package types

import "time"

// RecordKind discriminates journal records.
type RecordKind string

// Journal record kinds.
const (
	// RecordKindFrame is one radio frame crossing the link.
	RecordKindFrame RecordKind = "frame"
	// RecordKindPass is the summary of a finished pass.
	RecordKindPass RecordKind = "pass"
)

// Direction is the link direction of a frame.
type Direction string

// Link directions.
const (
	DirectionUplink   Direction = "uplink"
	DirectionDownlink Direction = "downlink"
)

// NoPass is the pass_id partition value for frames seen outside a pass.
const NoPass = "none"

// Record is an entry in the frame journal.
type Record interface {
	RecordKind() RecordKind
	// Partition returns the pass the record belongs to and its timestamp.
	Partition() (passID string, at time.Time)
}

// FrameRecord is a journaled radio frame.
type FrameRecord struct {
	PassID    string    `json:"pass_id"`
	Direction Direction `json:"direction"`
	Ts        time.Time `json:"ts"`
	Size      int       `json:"size"`
	// Hex is the frame exactly as it crossed the link.
	Hex string `json:"hex"`
	// Command is the decoded uplink command, if any.
	Command string `json:"command,omitempty"`
	// Error is the decode failure for uplink frames that were rejected.
	Error string `json:"error,omitempty"`
}

// RecordKind implements Record.
func (FrameRecord) RecordKind() RecordKind { return RecordKindFrame }

// Partition implements Record.
func (r FrameRecord) Partition() (string, time.Time) { return r.PassID, r.Ts }

// PassRecord is a journaled pass summary.
type PassRecord struct {
	PassID            string    `json:"pass_id"`
	Node              string    `json:"node"`
	Reason            string    `json:"reason"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	PassLength        uint32    `json:"pass_length"`
	FramesReceived    int       `json:"frames_received"`
	FramesTransmitted int       `json:"frames_transmitted"`
	NacksReceived     int       `json:"nacks_received"`
}

// RecordKind implements Record.
func (PassRecord) RecordKind() RecordKind { return RecordKindPass }

// Partition implements Record.
func (r PassRecord) Partition() (string, time.Time) { return r.PassID, r.StartedAt }
