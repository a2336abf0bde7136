// Package cmd provides CLI commands for the radsat binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only commands (frame decode, stats).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (frame decode, stats only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// JournalFlags locate a frame journal for reading.
func JournalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "journal-backend", Usage: "Journal backend: fs or s3", Value: "fs"},
		&cli.StringFlag{Name: "journal-path", Usage: "Journal path (fs: directory, s3: bucket/prefix)", Required: true},
		&cli.StringFlag{Name: "journal-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "journal-endpoint", Usage: "Custom S3 endpoint (MinIO and similar)"},
		&cli.BoolFlag{Name: "journal-path-style", Usage: "Use path-style S3 addressing"},
		&cli.StringFlag{Name: "day", Usage: "Only records from this day (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "pass", Usage: "Only records from this pass ID"},
	}
}

// KeyFlags give the cipher key for offline codec tools.
func KeyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "key", Usage: "Cipher key (raw string)"},
		&cli.StringFlag{Name: "key-hex", Usage: "Cipher key as hex"},
		&cli.StringFlag{Name: "fram", Usage: "Read the cipher key from a FRAM image"},
	}
}
