package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/reader"
	"github.com/justapithecus/radsat/cli/render"
	"github.com/justapithecus/radsat/frame"
)

// EncodeResponse is the response for frame encode.
type EncodeResponse struct {
	Kind    string `json:"kind"`
	Service string `json:"service"`
	Size    int    `json:"size"`
	Sealed  bool   `json:"sealed"`
	Hex     string `json:"hex"`
}

// FrameCommand returns the frame command with subcommands.
// Frame tools are offline: they never open a link.
func FrameCommand() *cli.Command {
	return &cli.Command{
		Name:  "frame",
		Usage: "Encode and decode radio frames offline",
		Subcommands: []*cli.Command{
			frameEncodeCommand(),
			frameDecodeCommand(),
			frameKindsCommand(),
		},
	}
}

func frameEncodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Build a frame from a message kind and YAML body",
		ArgsUsage: "<kind>",
		Flags: append(append(ReadOnlyFlags(), KeyFlags()...),
			&cli.StringFlag{Name: "body", Usage: "Message body as YAML, e.g. 'pass_length: 120'"},
			&cli.StringFlag{Name: "body-file", Usage: "Read the message body from a YAML file"},
			&cli.BoolFlag{Name: "seal", Usage: "Encipher the frame for uplink with the key"},
		),
		Action: frameEncodeAction,
	}
}

func frameEncodeAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for frame encode", exitConfigError)
	}
	if c.NArg() != 1 {
		return cli.Exit(fmt.Sprintf("frame encode requires exactly one kind: %s", strings.Join(reader.Kinds(), ", ")), exitConfigError)
	}
	kind := c.Args().First()

	body := []byte(c.String("body"))
	if path := c.String("body-file"); path != "" {
		if len(body) > 0 {
			return cli.Exit("--body and --body-file are mutually exclusive", exitConfigError)
		}
		body, err = os.ReadFile(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot read body file: %v", err), exitConfigError)
		}
	}

	msg, err := reader.BuildMessage(kind, body)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	keys, err := resolveKey(c.String("key"), c.String("key-hex"), c.String("fram"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	codec := frame.NewCodec(frame.WithKeySource(keys))

	raw, err := codec.Wrap(msg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if c.Bool("seal") {
		if raw, err = codec.Seal(raw); err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
	}

	return r.Render(EncodeResponse{
		Kind:    kind,
		Service: msg.Service().String(),
		Size:    len(raw),
		Sealed:  c.Bool("seal"),
		Hex:     hex.EncodeToString(raw),
	})
}

func frameDecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a frame given as hex (reads stdin for - or no argument)",
		ArgsUsage: "[hex]",
		Flags:     append(ReadOnlyFlags(), KeyFlags()...),
		Action:    frameDecodeAction,
	}
}

func frameDecodeAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	input := strings.Join(c.Args().Slice(), " ")
	if input == "" || input == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot read stdin: %v", err), exitConfigError)
		}
		input = string(data)
	}
	raw, err := reader.ParseHex(input)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	keys, err := resolveKey(c.String("key"), c.String("key-hex"), c.String("fram"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	view := reader.DecodeFrame(frame.NewCodec(frame.WithKeySource(keys)), raw)

	if c.Bool("tui") {
		return r.RenderTUI("inspect_frame", view)
	}
	if err := r.Render(view); err != nil {
		return err
	}
	if !view.OK() {
		return cli.Exit("", exitRuntimeError)
	}
	return nil
}

func frameKindsCommand() *cli.Command {
	return &cli.Command{
		Name:  "kinds",
		Usage: "List the message kinds frame encode accepts",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for frame kinds", exitConfigError)
			}
			return r.Render(reader.Kinds())
		},
	}
}
