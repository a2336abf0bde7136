package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/radsat/adapter"
	"github.com/justapithecus/radsat/adapter/redis"
	"github.com/justapithecus/radsat/adapter/webhook"
	"github.com/justapithecus/radsat/cli/config"
	"github.com/justapithecus/radsat/comms"
	"github.com/justapithecus/radsat/fram"
	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/journal"
	"github.com/justapithecus/radsat/keystore"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/policy"
	"github.com/justapithecus/radsat/runtime"
	"github.com/justapithecus/radsat/transceiver"
)

// components holds everything radsat run assembles outside the stack.
// The stack closes the link, journal and adapter; closers are the rest.
type components struct {
	stack     *runtime.Stack
	collector *metrics.Collector
	closers   []io.Closer
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildComponents assembles the communication stack from a validated config.
func buildComponents(ctx context.Context, cfg *config.Config, logger *log.Logger) (*components, error) {
	collector := metrics.NewCollector(cfg.Node.Name, cfg.Transceiver.Type, cfg.Journal.Backend)
	out := &components{collector: collector}

	keys, keyCloser, err := buildKeySource(cfg.Keystore)
	if err != nil {
		return nil, err
	}
	if keyCloser != nil {
		out.closers = append(out.closers, keyCloser)
	}

	jnl, err := buildJournal(ctx, cfg.Journal, cfg.Node.Name, logger.With(map[string]any{"component": "journal"}), collector)
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	adp, err := buildAdapter(cfg.Adapter)
	if err != nil {
		closeOptional(jnl)
		_ = out.Close()
		return nil, err
	}

	link, err := buildLink(cfg.Transceiver, logger.With(map[string]any{"component": "transceiver"}))
	if err != nil {
		closeOptional(jnl)
		if adp != nil {
			_ = adp.Close()
		}
		_ = out.Close()
		return nil, err
	}

	telemetryInterval := cfg.Telemetry.Interval.Duration
	if !cfg.Telemetry.Enabled {
		telemetryInterval = -1
	}
	rules := comms.Rules{
		NackErrorLimit:       uint8(cfg.Protocol.NackLimit),
		NackPolicy:           comms.NackPolicy(cfg.Protocol.NackPolicy),
		AckBeginFileTransfer: cfg.Protocol.AckBeginFileTransfer,
	}

	stackCfg := runtime.Config{
		Node:              cfg.Node.Name,
		Link:              link,
		Codec:             frame.NewCodec(frame.WithKeySource(keys)),
		QueueCapacity:     cfg.FIFO.Capacity,
		Rules:             &rules,
		PassDuration:      cfg.Protocol.PassDuration.Duration,
		QuietDuration:     cfg.Protocol.QuietDuration.Duration,
		RxInterval:        cfg.Protocol.RxInterval.Duration,
		TxShortSleep:      cfg.Protocol.TxShortSleep.Duration,
		Bitrate:           cfg.Transceiver.Bitrate,
		TelemetryInterval: telemetryInterval,
		Sampler:           &runtime.ObcSampler{Start: time.Now(), BootCount: cfg.Telemetry.BootCount},
		Journal:           jnl,
		Adapter:           adp,
		Logger:            logger,
		Collector:         collector,
	}

	stack, err := runtime.NewStack(stackCfg)
	if err != nil {
		closeOptional(jnl)
		if adp != nil {
			_ = adp.Close()
		}
		_ = link.Close()
		_ = out.Close()
		return nil, err
	}
	out.stack = stack
	return out, nil
}

func closeOptional(j *journal.Journal) {
	if j != nil {
		_ = j.Close()
	}
}

// buildLink opens the configured radio.
func buildLink(cfg config.TransceiverConfig, logger *log.Logger) (transceiver.Transceiver, error) {
	sc := transceiver.StreamConfig{
		RxSlots: cfg.RxSlots,
		TxSlots: cfg.TxSlots,
		Bitrate: cfg.Bitrate,
	}
	switch cfg.Type {
	case "memory":
		return transceiver.NewMemory(cfg.RxSlots, cfg.TxSlots), nil
	case "tcp":
		srv, err := transceiver.ListenTCP(cfg.Addr, sc, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("link listening", map[string]any{"addr": srv.Addr().String()})
		return srv, nil
	case "serial":
		st, err := transceiver.OpenSerial(cfg.Port, cfg.Baud, sc, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown transceiver type: %s (must be memory, tcp or serial)", cfg.Type)
	}
}

// buildKeySource opens the FRAM image, provisions the configured key and
// checks that the stored copies agree. Without an image the link is
// unkeyed. The returned closer writes self-heal repairs back to the image.
func buildKeySource(cfg config.KeystoreConfig) (frame.KeySource, io.Closer, error) {
	if cfg.FRAMPath == "" {
		return frame.StaticKey(nil), nil, nil
	}
	store, img, err := openKeystore(cfg.FRAMPath, cfg.FRAMSize)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Key != "" {
		if err := store.Provision([]byte(cfg.Key)); err != nil {
			_ = img.Close()
			return nil, nil, fmt.Errorf("provision key: %w", err)
		}
	}
	if _, err := store.Key(); err != nil {
		_ = img.Close()
		return nil, nil, fmt.Errorf("read key from %s: %w", cfg.FRAMPath, err)
	}
	if err := img.Sync(); err != nil {
		_ = img.Close()
		return nil, nil, err
	}
	return store, img, nil
}

func openKeystore(path string, size int) (*keystore.Store, *fram.File, error) {
	if size <= 0 {
		size = fram.DefaultSize
	}
	img, err := fram.OpenFile(path, size)
	if err != nil {
		return nil, nil, err
	}
	store, err := keystore.New(img, keystore.DefaultLayout())
	if err != nil {
		_ = img.Close()
		return nil, nil, err
	}
	return store, img, nil
}

// resolveKey picks the cipher key for offline tools from --key, --key-hex
// or --fram, in that order.
func resolveKey(key, keyHex, framPath string) (frame.KeySource, error) {
	switch {
	case key != "":
		return frame.StaticKey(key), nil
	case keyHex != "":
		b, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid --key-hex: %w", err)
		}
		return frame.StaticKey(b), nil
	case framPath != "":
		store, img, err := openKeystore(framPath, fram.DefaultSize)
		if err != nil {
			return nil, err
		}
		defer func() { _ = img.Close() }()
		k, err := store.Key()
		if err != nil {
			return nil, err
		}
		return frame.StaticKey(k), nil
	default:
		return frame.StaticKey(nil), nil
	}
}

// openDataset opens a journal dataset on the fs or s3 backend.
func openDataset(ctx context.Context, backend, path, region, endpoint string, pathStyle bool) (lode.Dataset, error) {
	switch backend {
	case "fs":
		return journal.OpenFS(path)
	case "s3":
		bucket, prefix := journal.ParseS3Path(path)
		return journal.OpenS3(ctx, journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       region,
			Endpoint:     endpoint,
			UsePathStyle: pathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported journal backend: %s (must be fs or s3)", backend)
	}
}

// buildJournal opens the configured journal. The none backend counts
// records without storing them.
func buildJournal(ctx context.Context, cfg config.JournalConfig, node string, logger *log.Logger, collector *metrics.Collector) (*journal.Journal, error) {
	if cfg.Backend == "none" {
		return journal.New(policy.NewNoopPolicy(), node, logger), nil
	}
	ds, err := openDataset(ctx, cfg.Backend, cfg.Path, cfg.Region, cfg.Endpoint, cfg.S3PathStyle)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	pol, err := buildPolicy(cfg, journal.NewSink(ds, node, collector), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal policy: %w", err)
	}
	return journal.New(pol, node, logger), nil
}

func buildPolicy(cfg config.JournalConfig, sink policy.Sink, logger *log.Logger) (policy.Policy, error) {
	switch cfg.Policy {
	case "strict":
		return policy.NewStrictPolicy(sink), nil
	case "buffered":
		p, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{
			MaxBufferRecords: cfg.BufferRecords,
			MaxBufferBytes:   cfg.BufferBytes,
			FlushThreshold:   cfg.FlushThreshold,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown policy: %s", cfg.Policy)
	}
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		a, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
			Backoff: cfg.Backoff.Duration,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
			Backoff: cfg.Backoff.Duration,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be redis or webhook)", cfg.Type)
	}
}
