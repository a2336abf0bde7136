// Package metrics provides link counters for the communication stack.
//
// The Collector accumulates counters for the life of a node process. It is a
// leaf package with no internal dependencies; error kinds and command names
// are recorded as strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Link
	FramesReceived    int64 `json:"frames_received" yaml:"frames_received"`
	FramesTransmitted int64 `json:"frames_transmitted" yaml:"frames_transmitted"`
	TransceiverErrors int64 `json:"transceiver_errors" yaml:"transceiver_errors"`

	// Uplink decoding
	UnwrapErrors    int64            `json:"unwrap_errors" yaml:"unwrap_errors"`
	UnwrapByKind    map[string]int64 `json:"unwrap_by_kind" yaml:"unwrap_by_kind"`
	UnknownCommands int64            `json:"unknown_commands" yaml:"unknown_commands"`
	Commands        map[string]int64 `json:"commands" yaml:"commands"`

	// Flow control
	AcksReceived  int64 `json:"acks_received" yaml:"acks_received"`
	NacksReceived int64 `json:"nacks_received" yaml:"nacks_received"`
	AcksSent      int64 `json:"acks_sent" yaml:"acks_sent"`
	NacksSent     int64 `json:"nacks_sent" yaml:"nacks_sent"`

	// Passes
	PassesStarted   int64 `json:"passes_started" yaml:"passes_started"`
	PassesCompleted int64 `json:"passes_completed" yaml:"passes_completed"`
	PassesAborted   int64 `json:"passes_aborted" yaml:"passes_aborted"`

	// Downlink queue
	TelemetryEnqueued int64 `json:"telemetry_enqueued" yaml:"telemetry_enqueued"`
	TelemetryDropped  int64 `json:"telemetry_dropped" yaml:"telemetry_dropped"`
	FIFOOverflows     int64 `json:"fifo_overflows" yaml:"fifo_overflows"`

	// Journal / adapter
	JournalWriteSuccess   int64 `json:"journal_write_success" yaml:"journal_write_success"`
	JournalWriteFailure   int64 `json:"journal_write_failure" yaml:"journal_write_failure"`
	AdapterPublishSuccess int64 `json:"adapter_publish_success" yaml:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure" yaml:"adapter_publish_failure"`

	// Dimensions (informational, set at construction)
	Node           string `json:"node" yaml:"node"`
	Transport      string `json:"transport" yaml:"transport"`
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	framesReceived    int64
	framesTransmitted int64
	transceiverErrors int64

	unwrapErrors    int64
	unwrapByKind    map[string]int64
	unknownCommands int64
	commands        map[string]int64

	acksReceived  int64
	nacksReceived int64
	acksSent      int64
	nacksSent     int64

	passesStarted   int64
	passesCompleted int64
	passesAborted   int64

	telemetryEnqueued int64
	telemetryDropped  int64
	fifoOverflows     int64

	journalWriteSuccess   int64
	journalWriteFailure   int64
	adapterPublishSuccess int64
	adapterPublishFailure int64

	node           string
	transport      string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(node, transport, storageBackend string) *Collector {
	return &Collector{
		unwrapByKind:   make(map[string]int64),
		commands:       make(map[string]int64),
		node:           node,
		transport:      transport,
		storageBackend: storageBackend,
	}
}

func (c *Collector) add(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

// --- Link ---

// IncFrameReceived records a frame read from the transceiver.
func (c *Collector) IncFrameReceived() {
	if c == nil {
		return
	}
	c.add(&c.framesReceived)
}

// IncFrameTransmitted records a frame handed to the transceiver.
func (c *Collector) IncFrameTransmitted() {
	if c == nil {
		return
	}
	c.add(&c.framesTransmitted)
}

// IncTransceiverError records a failed transceiver call.
func (c *Collector) IncTransceiverError() {
	if c == nil {
		return
	}
	c.add(&c.transceiverErrors)
}

// --- Uplink decoding ---

// IncUnwrapError records a rejected inbound frame by error kind.
func (c *Collector) IncUnwrapError(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unwrapErrors++
	c.unwrapByKind[kind]++
	c.mu.Unlock()
}

// IncUnknownCommand records a valid frame that named no command.
func (c *Collector) IncUnknownCommand() {
	if c == nil {
		return
	}
	c.add(&c.unknownCommands)
}

// IncCommand records a decoded command by name.
func (c *Collector) IncCommand(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commands[name]++
	c.mu.Unlock()
}

// --- Flow control ---

// IncAckReceived records an inbound Ack.
func (c *Collector) IncAckReceived() {
	if c == nil {
		return
	}
	c.add(&c.acksReceived)
}

// IncNackReceived records an inbound Nack.
func (c *Collector) IncNackReceived() {
	if c == nil {
		return
	}
	c.add(&c.nacksReceived)
}

// IncAckSent records a generated Ack.
func (c *Collector) IncAckSent() {
	if c == nil {
		return
	}
	c.add(&c.acksSent)
}

// IncNackSent records a generated Nack.
func (c *Collector) IncNackSent() {
	if c == nil {
		return
	}
	c.add(&c.nacksSent)
}

// --- Passes ---

// IncPassStarted records a pass start.
func (c *Collector) IncPassStarted() {
	if c == nil {
		return
	}
	c.add(&c.passesStarted)
}

// IncPassCompleted records a pass that ended on its timer.
func (c *Collector) IncPassCompleted() {
	if c == nil {
		return
	}
	c.add(&c.passesCompleted)
}

// IncPassAborted records a pass ended early (NACK limit or cease).
func (c *Collector) IncPassAborted() {
	if c == nil {
		return
	}
	c.add(&c.passesAborted)
}

// --- Downlink queue ---

// IncTelemetryEnqueued records a telemetry record queued for downlink.
func (c *Collector) IncTelemetryEnqueued() {
	if c == nil {
		return
	}
	c.add(&c.telemetryEnqueued)
}

// IncTelemetryDropped records a telemetry record that could not be queued.
func (c *Collector) IncTelemetryDropped() {
	if c == nil {
		return
	}
	c.add(&c.telemetryDropped)
}

// IncFIFOOverflow records an add rejected because the queue was full.
func (c *Collector) IncFIFOOverflow() {
	if c == nil {
		return
	}
	c.add(&c.fifoOverflows)
}

// --- Journal / adapter ---
// Journal counters are per flush, not per record.

// IncJournalWriteSuccess records a successful journal flush.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteSuccess)
}

// IncJournalWriteFailure records a failed journal flush.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteFailure)
}

// IncAdapterPublishSuccess records a delivered pass notification.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishSuccess)
}

// IncAdapterPublishFailure records a notification that exhausted its retries.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		FramesReceived:    c.framesReceived,
		FramesTransmitted: c.framesTransmitted,
		TransceiverErrors: c.transceiverErrors,

		UnwrapErrors:    c.unwrapErrors,
		UnwrapByKind:    copyCounts(c.unwrapByKind),
		UnknownCommands: c.unknownCommands,
		Commands:        copyCounts(c.commands),

		AcksReceived:  c.acksReceived,
		NacksReceived: c.nacksReceived,
		AcksSent:      c.acksSent,
		NacksSent:     c.nacksSent,

		PassesStarted:   c.passesStarted,
		PassesCompleted: c.passesCompleted,
		PassesAborted:   c.passesAborted,

		TelemetryEnqueued: c.telemetryEnqueued,
		TelemetryDropped:  c.telemetryDropped,
		FIFOOverflows:     c.fifoOverflows,

		JournalWriteSuccess:   c.journalWriteSuccess,
		JournalWriteFailure:   c.journalWriteFailure,
		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Node:           c.node,
		Transport:      c.transport,
		StorageBackend: c.storageBackend,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
