package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/render"
	"github.com/justapithecus/radsat/fram"
)

// KeystoreResponse reports the state of a FRAM key image.
// The key itself is never printed.
type KeystoreResponse struct {
	Path        string `json:"path"`
	KeySize     int    `json:"key_size"`
	Repairs     int    `json:"repairs"`
	Provisioned bool   `json:"provisioned"`
}

// KeystoreCommand returns the keystore command.
func KeystoreCommand() *cli.Command {
	framFlags := []cli.Flag{
		&cli.StringFlag{Name: "fram", Usage: "FRAM image path", Required: true},
		&cli.IntFlag{Name: "fram-size", Usage: "FRAM image size in bytes", Value: fram.DefaultSize},
	}
	return &cli.Command{
		Name:  "keystore",
		Usage: "Provision and check the cipher key stored in FRAM",
		Subcommands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "Write the cipher key to all three FRAM copies",
				Flags: append(append(ReadOnlyFlags(), framFlags...),
					&cli.StringFlag{Name: "key", Usage: "Cipher key (raw string)"},
					&cli.StringFlag{Name: "key-hex", Usage: "Cipher key as hex"},
				),
				Action: keystoreProvisionAction,
			},
			{
				Name:   "check",
				Usage:  "Vote the stored copies and repair a disagreeing one",
				Flags:  append(ReadOnlyFlags(), framFlags...),
				Action: keystoreCheckAction,
			},
		},
	}
}

func keystoreProvisionAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	var key []byte
	switch {
	case c.String("key") != "" && c.String("key-hex") != "":
		return cli.Exit("--key and --key-hex are mutually exclusive", exitConfigError)
	case c.String("key") != "":
		key = []byte(c.String("key"))
	case c.String("key-hex") != "":
		key, err = hex.DecodeString(c.String("key-hex"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid --key-hex: %v", err), exitConfigError)
		}
	default:
		return cli.Exit("one of --key or --key-hex is required", exitConfigError)
	}

	path := c.String("fram")
	store, img, err := openKeystore(path, c.Int("fram-size"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open FRAM image: %v", err), exitConfigError)
	}
	if err := store.Provision(key); err != nil {
		_ = img.Close()
		return cli.Exit(err.Error(), exitConfigError)
	}
	if err := img.Close(); err != nil {
		return cli.Exit(fmt.Sprintf("failed to write FRAM image: %v", err), exitRuntimeError)
	}

	return r.Render(KeystoreResponse{Path: path, KeySize: len(key), Provisioned: true})
}

func keystoreCheckAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	path := c.String("fram")
	store, img, err := openKeystore(path, c.Int("fram-size"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open FRAM image: %v", err), exitConfigError)
	}
	key, err := store.Key()
	if err != nil {
		_ = img.Close()
		return cli.Exit(err.Error(), exitRuntimeError)
	}
	if err := img.Close(); err != nil {
		return cli.Exit(fmt.Sprintf("failed to write FRAM image: %v", err), exitRuntimeError)
	}

	return r.Render(KeystoreResponse{Path: path, KeySize: len(key), Repairs: store.Repairs()})
}
