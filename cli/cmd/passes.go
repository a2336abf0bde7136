package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/reader"
	"github.com/justapithecus/radsat/cli/render"
	"github.com/justapithecus/radsat/journal"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// PassesCommand returns the passes command.
// Passes returns one thin row per journaled pass, newest first.
func PassesCommand() *cli.Command {
	return &cli.Command{
		Name:  "passes",
		Usage: "List journaled passes",
		Flags: append(append(ReadOnlyFlags(), JournalFlags()...),
			&cli.StringFlag{
				Name:  "reason",
				Usage: "Filter by end reason: timeout, nack_limit, ceased, shutdown",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of passes to return (0 = no limit)",
			},
		),
		Action: passesAction,
	}
}

func passesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for passes", exitConfigError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalReadTimeout)
	defer cancel()

	ds, err := openReadDataset(ctx, c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open journal: %v", err), exitConfigError)
	}

	passes, err := journal.ListPasses(ctx, ds, journalFilter(c))
	if err != nil && !errors.Is(err, journal.ErrEmpty) && !errors.Is(err, journal.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("failed to read journal: %v", err), exitRuntimeError)
	}

	items := filterPasses(reader.PassItems(passes), c.String("reason"), c.Int("limit"))

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(items) > listWarningThreshold && c.Int("limit") == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(items))
	}

	return r.Render(items)
}

func filterPasses(items []reader.PassItem, reason string, limit int) []reader.PassItem {
	out := items[:0:0]
	for _, it := range items {
		if reason != "" && it.Reason != reason {
			continue
		}
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
