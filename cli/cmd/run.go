package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/config"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

// RunCommand returns the run command.
// This is the only command that operates the flight stack.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the communication stack until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to radsat.yaml (defaults apply when omitted)",
			},
			&cli.StringFlag{
				Name:  "node",
				Usage: "Spacecraft node name",
			},
			&cli.StringFlag{
				Name:  "transceiver",
				Usage: "Radio link: memory, tcp or serial",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "TCP listen address for the tcp link",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "Serial device for the serial link",
			},
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Serial baud rate",
			},
			&cli.StringFlag{
				Name:  "journal-backend",
				Usage: "Frame journal backend: fs, s3 or none",
			},
			&cli.StringFlag{
				Name:  "journal-path",
				Usage: "Frame journal path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "fram",
				Usage: "FRAM image holding the cipher key",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the summary printed at exit",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadRunConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	logger := log.NewLoggerWithOutput(log.Context{Mission: cfg.Node.Mission, Node: cfg.Node.Name}, os.Stderr, level)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if d := c.Duration("duration"); d > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, d)
		defer stop()
	}

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to start: %v", err), exitRuntimeError)
	}
	defer func() { _ = comps.Close() }()

	start := time.Now()
	runErr := comps.stack.Run(ctx)
	duration := time.Since(start)

	if !c.Bool("quiet") {
		printRunSummary(c.App.Writer, cfg.Node.Name, comps.collector.Snapshot(), duration)
	}
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("shutdown failed: %v", runErr), exitRuntimeError)
	}
	return nil
}

// loadRunConfig reads --config over the defaults, applies flag overrides
// and validates the result.
func loadRunConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, missing, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		for _, name := range missing {
			fmt.Fprintf(os.Stderr, "Warning: environment variable %s is not set\n", name)
		}
		cfg = loaded
	}

	if c.IsSet("node") {
		cfg.Node.Name = c.String("node")
	}
	if c.IsSet("transceiver") {
		cfg.Transceiver.Type = c.String("transceiver")
	}
	if c.IsSet("addr") {
		cfg.Transceiver.Addr = c.String("addr")
	}
	if c.IsSet("port") {
		cfg.Transceiver.Port = c.String("port")
	}
	if c.IsSet("baud") {
		cfg.Transceiver.Baud = c.Int("baud")
	}
	if c.IsSet("journal-backend") {
		cfg.Journal.Backend = c.String("journal-backend")
	}
	if c.IsSet("journal-path") {
		cfg.Journal.Path = c.String("journal-path")
	}
	if c.IsSet("fram") {
		cfg.Keystore.FRAMPath = c.String("fram")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printRunSummary(w io.Writer, node string, snap metrics.Snapshot, duration time.Duration) {
	fmt.Fprintf(w, "\nnode=%s, duration=%s\n", node, duration.Round(time.Millisecond))

	fmt.Fprintf(w, "\n=== Passes ===\n")
	fmt.Fprintf(w, "Started:      %d\n", snap.PassesStarted)
	fmt.Fprintf(w, "Completed:    %d\n", snap.PassesCompleted)
	fmt.Fprintf(w, "Aborted:      %d\n", snap.PassesAborted)

	fmt.Fprintf(w, "\n=== Link ===\n")
	fmt.Fprintf(w, "Frames Rx:    %d\n", snap.FramesReceived)
	fmt.Fprintf(w, "Frames Tx:    %d\n", snap.FramesTransmitted)
	fmt.Fprintf(w, "Acks Rx/Tx:   %d/%d\n", snap.AcksReceived, snap.AcksSent)
	fmt.Fprintf(w, "Nacks Rx/Tx:  %d/%d\n", snap.NacksReceived, snap.NacksSent)
	fmt.Fprintf(w, "Link Errors:  %d\n", snap.TransceiverErrors)

	if snap.UnwrapErrors > 0 || snap.UnknownCommands > 0 {
		fmt.Fprintf(w, "\n=== Rejected Uplink ===\n")
		fmt.Fprintf(w, "Unwrap:       %d\n", snap.UnwrapErrors)
		for _, kind := range sortedKeys(snap.UnwrapByKind) {
			fmt.Fprintf(w, "  %-12s%d\n", kind, snap.UnwrapByKind[kind])
		}
		fmt.Fprintf(w, "Unknown:      %d\n", snap.UnknownCommands)
	}

	fmt.Fprintf(w, "\n=== Downlink Queue ===\n")
	fmt.Fprintf(w, "Telemetry:    %d enqueued, %d dropped\n", snap.TelemetryEnqueued, snap.TelemetryDropped)
	fmt.Fprintf(w, "Overflows:    %d\n", snap.FIFOOverflows)

	fmt.Fprintf(w, "\n=== Journal ===\n")
	fmt.Fprintf(w, "Writes:       %d ok, %d failed\n", snap.JournalWriteSuccess, snap.JournalWriteFailure)
	fmt.Fprintf(w, "Publishes:    %d ok, %d failed\n", snap.AdapterPublishSuccess, snap.AdapterPublishFailure)
}
