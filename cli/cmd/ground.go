package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/reader"
	"github.com/justapithecus/radsat/cli/render"
	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/transceiver"
	"github.com/justapithecus/radsat/types"
)

// errIdle is returned by await when nothing wanted arrives in time.
var errIdle = errors.New("link idle")

const defaultGroundPoll = 20 * time.Millisecond

// GroundReport is the outcome of a scripted ground pass.
type GroundReport struct {
	Addr       string              `json:"addr"`
	PassLength uint32              `json:"pass_length"`
	PassAcked  bool                `json:"pass_acked"`
	Acked      int                 `json:"acked"`
	Nacked     int                 `json:"nacked"`
	Rejected   int                 `json:"rejected"`
	Ceased     bool                `json:"ceased"`
	Frames     []*reader.FrameView `json:"frames"`
}

// groundScript drives one pass from the ground side.
type groundScript struct {
	PassLength uint32
	// MaxFrames stops the pass after this many downlink frames (0 = until idle).
	MaxFrames int
	// Idle ends a wait that sees no wanted frame.
	Idle time.Duration
	Poll time.Duration
	// NackEvery answers every Nth downlink frame with a Nack (0 = never).
	NackEvery int
	// Cease sends CeaseTransmission at the end of the pass.
	Cease         bool
	CeaseDuration uint32
}

// groundSession plays the ground station over link. Uplink frames are
// sealed with the mission key; downlink frames arrive in the clear.
type groundSession struct {
	link     transceiver.Transceiver
	uplink   *frame.Codec
	downlink *frame.Codec
	script   groundScript
	logger   *log.SugaredLogger
}

func (g *groundSession) run(ctx context.Context) (*GroundReport, error) {
	rep := &GroundReport{PassLength: g.script.PassLength, Frames: []*reader.FrameView{}}

	if err := g.send(ctx, &types.TelecommandMessage{Body: types.BeginPass{PassLength: g.script.PassLength}}); err != nil {
		return rep, err
	}
	if _, err := g.await(ctx, isAck); err != nil {
		return rep, fmt.Errorf("no ack for begin_pass: %w", err)
	}
	rep.PassAcked = true
	g.logger.Infof("pass open, pass_length=%d", g.script.PassLength)

	if err := g.send(ctx, &types.TelecommandMessage{Body: types.BeginFileTransfer{}}); err != nil {
		return rep, err
	}
	// The first Ack asks for the first frame.
	if err := g.send(ctx, &types.ProtocolMessage{Body: types.Ack{}}); err != nil {
		return rep, err
	}

	for g.script.MaxFrames == 0 || len(rep.Frames) < g.script.MaxFrames {
		v, err := g.await(ctx, isDownlinkData)
		if errors.Is(err, errIdle) {
			g.logger.Infof("downlink idle after %d frames", len(rep.Frames))
			break
		}
		if err != nil {
			return rep, err
		}
		rep.Frames = append(rep.Frames, v)

		nack := !v.OK() || (g.script.NackEvery > 0 && len(rep.Frames)%g.script.NackEvery == 0)
		if !v.OK() {
			rep.Rejected++
			g.logger.Warnf("rejected downlink frame: %s", v.Error)
		} else {
			g.logger.Debugf("downlink %s (%d bytes)", v.Kind, v.Size)
		}
		if nack {
			rep.Nacked++
			err = g.send(ctx, &types.ProtocolMessage{Body: types.Nack{}})
		} else {
			rep.Acked++
			err = g.send(ctx, &types.ProtocolMessage{Body: types.Ack{}})
		}
		if err != nil {
			return rep, err
		}
	}

	if g.script.Cease {
		if err := g.send(ctx, &types.TelecommandMessage{Body: types.CeaseTransmission{Duration: g.script.CeaseDuration}}); err != nil {
			return rep, err
		}
		rep.Ceased = true
	}
	return rep, nil
}

func (g *groundSession) send(ctx context.Context, m types.Message) error {
	plain, err := g.uplink.Wrap(m)
	if err != nil {
		return err
	}
	sealed, err := g.uplink.Seal(plain)
	if err != nil {
		return err
	}
	if _, err := g.link.SendFrame(ctx, sealed); err != nil {
		return fmt.Errorf("uplink: %w", err)
	}
	return nil
}

// await polls the link until a frame satisfying want arrives. Other frames
// are skipped.
func (g *groundSession) await(ctx context.Context, want func(*reader.FrameView) bool) (*reader.FrameView, error) {
	deadline := time.NewTimer(g.script.Idle)
	defer deadline.Stop()
	ticker := time.NewTicker(g.script.Poll)
	defer ticker.Stop()

	for {
		n, err := g.link.RxFrameCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("downlink: %w", err)
		}
		for ; n > 0; n-- {
			raw, err := g.link.GetFrame(ctx)
			if err != nil {
				return nil, fmt.Errorf("downlink: %w", err)
			}
			v := reader.DecodeFrame(g.downlink, raw)
			if want(v) {
				return v, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, errIdle
		case <-ticker.C:
		}
	}
}

func isAck(v *reader.FrameView) bool {
	return v.OK() && v.Kind == "ack"
}

func isDownlinkData(v *reader.FrameView) bool {
	return !v.OK() || v.Service == types.ServiceFileTransfer.String()
}

// GroundCommand returns the ground command.
func GroundCommand() *cli.Command {
	return &cli.Command{
		Name:  "ground",
		Usage: "Fly a scripted ground pass against a running stack",
		Flags: append(append(ReadOnlyFlags(), KeyFlags()...),
			&cli.StringFlag{Name: "addr", Usage: "Link address of the stack", Value: "127.0.0.1:7600"},
			&cli.UintFlag{Name: "pass-length", Usage: "Announced pass length in seconds", Value: 120},
			&cli.IntFlag{Name: "frames", Usage: "Stop after this many downlink frames (0 = until idle)"},
			&cli.DurationFlag{Name: "idle", Usage: "End the pass after this long without downlink", Value: 5 * time.Second},
			&cli.DurationFlag{Name: "timeout", Usage: "Abort the whole pass after this long", Value: 5 * time.Minute},
			&cli.IntFlag{Name: "nack-every", Usage: "Answer every Nth frame with a Nack (0 = never)"},
			&cli.BoolFlag{Name: "cease", Usage: "Send CeaseTransmission when done"},
			&cli.UintFlag{Name: "cease-duration", Usage: "Requested silence in seconds", Value: 60},
			&cli.StringFlag{Name: "log-level", Usage: "Log level for progress on stderr", Value: "info"},
		),
		Action: groundAction,
	}
}

func groundAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for ground command", exitConfigError)
	}

	keys, err := resolveKey(c.String("key"), c.String("key-hex"), c.String("fram"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	logger := log.NewLoggerWithOutput(log.Context{Node: "ground"}, os.Stderr, level)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
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

	addr := c.String("addr")
	link, err := transceiver.DialTCP(ctx, addr, transceiver.StreamConfig{}, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to reach %s: %v", addr, err), exitRuntimeError)
	}
	defer func() { _ = link.Close() }()

	g := &groundSession{
		link:     link,
		uplink:   frame.NewCodec(frame.WithKeySource(keys)),
		downlink: frame.NewCodec(),
		script: groundScript{
			PassLength:    uint32(c.Uint("pass-length")),
			MaxFrames:     c.Int("frames"),
			Idle:          c.Duration("idle"),
			Poll:          defaultGroundPoll,
			NackEvery:     c.Int("nack-every"),
			Cease:         c.Bool("cease"),
			CeaseDuration: uint32(c.Uint("cease-duration")),
		},
		logger: logger.Sugar(),
	}
	rep, runErr := g.run(ctx)
	rep.Addr = addr
	if err := r.Render(rep); err != nil {
		return err
	}
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("ground pass failed: %v", runErr), exitRuntimeError)
	}
	return nil
}
