// Package config loads radsat.yaml for radsat run.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/radsat/comms"
	"github.com/justapithecus/radsat/fram"
	"github.com/justapithecus/radsat/keystore"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/policy"
	"github.com/justapithecus/radsat/runtime"
	"github.com/justapithecus/radsat/transceiver"
)

// Config represents a radsat.yaml configuration file.
// Unset values keep their Default. CLI flags override config values.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Transceiver TransceiverConfig `yaml:"transceiver"`
	Protocol    ProtocolConfig    `yaml:"protocol"`
	FIFO        FIFOConfig        `yaml:"fifo"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Keystore    KeystoreConfig    `yaml:"keystore"`
	Journal     JournalConfig     `yaml:"journal"`
	Adapter     AdapterConfig     `yaml:"adapter"`
	Log         LogConfig         `yaml:"log"`
}

// NodeConfig identifies the spacecraft.
type NodeConfig struct {
	Name    string `yaml:"name"`
	Mission string `yaml:"mission"`
}

// TransceiverConfig selects the radio link.
type TransceiverConfig struct {
	// Type is memory, tcp or serial.
	Type string `yaml:"type"`
	// Addr is the TCP listen address.
	Addr string `yaml:"addr"`
	// Port is the serial device.
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	Bitrate int    `yaml:"bitrate"`
	RxSlots int    `yaml:"rx_slots"`
	TxSlots int    `yaml:"tx_slots"`
}

// ProtocolConfig holds the state machine rules and task timing.
type ProtocolConfig struct {
	NackLimit            int      `yaml:"nack_limit"`
	NackPolicy           string   `yaml:"nack_policy"`
	AckBeginFileTransfer bool     `yaml:"ack_begin_file_transfer"`
	PassDuration         Duration `yaml:"pass_duration"`
	QuietDuration        Duration `yaml:"quiet_duration"`
	RxInterval           Duration `yaml:"rx_interval"`
	TxShortSleep         Duration `yaml:"tx_short_sleep"`
}

// FIFOConfig sizes the downlink queue.
type FIFOConfig struct {
	Capacity int `yaml:"capacity"`
}

// TelemetryConfig controls OBC housekeeping.
type TelemetryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`
	BootCount uint32   `yaml:"boot_count"`
}

// KeystoreConfig locates the cipher key. With no FRAM image the link runs
// unkeyed; Key, if set, is provisioned into the image at startup.
type KeystoreConfig struct {
	FRAMPath string `yaml:"fram_path"`
	FRAMSize int    `yaml:"fram_size"`
	Key      string `yaml:"key"`
}

// JournalConfig selects frame journal storage.
type JournalConfig struct {
	// Backend is fs, s3 or none.
	Backend string `yaml:"backend"`
	// Path is a directory for fs, bucket/prefix for s3.
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	Policy      string `yaml:"policy"`

	BufferRecords  int   `yaml:"buffer_records"`
	BufferBytes    int64 `yaml:"buffer_bytes"`
	FlushThreshold int   `yaml:"flush_threshold"`
}

// AdapterConfig selects the pass notification adapter.
type AdapterConfig struct {
	// Type is redis, webhook or empty for none.
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Backoff Duration          `yaml:"backoff,omitempty"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the flight configuration.
func Default() *Config {
	buf := policy.DefaultBufferedConfig()
	return &Config{
		Node: NodeConfig{Name: "radsat-1", Mission: "radsat"},
		Transceiver: TransceiverConfig{
			Type:    "tcp",
			Addr:    "127.0.0.1:7600",
			Baud:    transceiver.DefaultBitrate,
			Bitrate: transceiver.DefaultBitrate,
			RxSlots: transceiver.DefaultRxSlots,
			TxSlots: transceiver.DefaultTxSlots,
		},
		Protocol: ProtocolConfig{
			NackLimit:     comms.DefaultNackErrorLimit,
			NackPolicy:    string(comms.NackResend),
			PassDuration:  Duration{comms.DefaultMaxPassModeDuration},
			QuietDuration: Duration{comms.DefaultMaxQuietModeDuration},
			RxInterval:    Duration{runtime.DefaultRxPollInterval},
			TxShortSleep:  Duration{runtime.DefaultTxShortSleep},
		},
		FIFO: FIFOConfig{Capacity: 64},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Interval: Duration{runtime.DefaultTelemetryInterval},
		},
		Keystore: KeystoreConfig{FRAMSize: fram.DefaultSize},
		Journal: JournalConfig{
			Backend:        "none",
			Policy:         "buffered",
			BufferRecords:  buf.MaxBufferRecords,
			BufferBytes:    buf.MaxBufferBytes,
			FlushThreshold: buf.FlushThreshold,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Node.Name == "" {
		add("node.name is required")
	}

	switch c.Transceiver.Type {
	case "memory":
	case "tcp":
		if c.Transceiver.Addr == "" {
			add("transceiver.addr is required for tcp")
		}
	case "serial":
		if c.Transceiver.Port == "" {
			add("transceiver.port is required for serial")
		}
		if c.Transceiver.Baud <= 0 {
			add("transceiver.baud must be positive, got %d", c.Transceiver.Baud)
		}
	default:
		add("transceiver.type must be memory, tcp or serial, got %q", c.Transceiver.Type)
	}
	if c.Transceiver.Bitrate < 0 {
		add("transceiver.bitrate must not be negative, got %d", c.Transceiver.Bitrate)
	}

	if c.Protocol.NackLimit < 0 || c.Protocol.NackLimit > 255 {
		add("protocol.nack_limit must be 0-255, got %d", c.Protocol.NackLimit)
	}
	switch comms.NackPolicy(c.Protocol.NackPolicy) {
	case comms.NackResend, comms.NackSilent:
	default:
		add("protocol.nack_policy must be resend or silent, got %q", c.Protocol.NackPolicy)
	}
	for name, d := range map[string]Duration{
		"protocol.pass_duration":  c.Protocol.PassDuration,
		"protocol.quiet_duration": c.Protocol.QuietDuration,
		"protocol.rx_interval":    c.Protocol.RxInterval,
		"protocol.tx_short_sleep": c.Protocol.TxShortSleep,
	} {
		if d.Duration <= 0 {
			add("%s must be positive, got %s", name, d)
		}
	}

	if c.FIFO.Capacity < 2 {
		add("fifo.capacity must be at least 2, got %d", c.FIFO.Capacity)
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval.Duration <= 0 {
		add("telemetry.interval must be positive, got %s", c.Telemetry.Interval)
	}

	if c.Keystore.Key != "" && c.Keystore.FRAMPath == "" {
		add("keystore.key requires keystore.fram_path")
	}
	if c.Keystore.Key != "" && len(c.Keystore.Key) != keystore.DefaultKeySize {
		add("keystore.key must be %d bytes, got %d", keystore.DefaultKeySize, len(c.Keystore.Key))
	}

	switch c.Journal.Backend {
	case "none":
	case "fs", "s3":
		if c.Journal.Path == "" {
			add("journal.path is required for %s", c.Journal.Backend)
		}
	default:
		add("journal.backend must be fs, s3 or none, got %q", c.Journal.Backend)
	}
	switch c.Journal.Policy {
	case "strict", "buffered":
	default:
		add("journal.policy must be strict or buffered, got %q", c.Journal.Policy)
	}
	if c.Journal.Policy == "buffered" && c.Journal.BufferRecords <= 0 && c.Journal.BufferBytes <= 0 {
		add("journal: buffered policy needs buffer_records or buffer_bytes")
	}

	switch c.Adapter.Type {
	case "":
	case "redis", "webhook":
		if c.Adapter.URL == "" {
			add("adapter.url is required for %s", c.Adapter.Type)
		}
	default:
		add("adapter.type must be redis or webhook, got %q", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		add("adapter.retries must not be negative, got %d", *c.Adapter.Retries)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	return errors.Join(errs...)
}
