// Package reader provides the read-side views used by the radsat CLI.
//
// It decodes raw frames for display, builds messages from YAML bodies for
// the offline encoder and shapes journal records into list rows. Nothing in
// this package touches a live link.
package reader

import "time"

// FrameView is the decoded form of one radio frame.
type FrameView struct {
	Hex  string `json:"hex"`
	Size int    `json:"size"`
	// Header fields are set whenever the header parses, even if the frame
	// is later rejected.
	Preamble    string    `json:"preamble,omitempty"`
	CRC         string    `json:"crc,omitempty"`
	PayloadSize int       `json:"payload_size"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
	CRCValid    bool      `json:"crc_valid"`
	Service     string    `json:"service,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Body        any       `json:"body,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

// OK reports whether the frame decoded cleanly.
func (v *FrameView) OK() bool {
	return v.Error == ""
}

// PassItem is one row of the pass list.
type PassItem struct {
	PassID            string    `json:"pass_id"`
	Reason            string    `json:"reason"`
	StartedAt         time.Time `json:"started_at"`
	Duration          string    `json:"duration"`
	FramesReceived    int       `json:"frames_received"`
	FramesTransmitted int       `json:"frames_transmitted"`
	NacksReceived     int       `json:"nacks_received"`
}
