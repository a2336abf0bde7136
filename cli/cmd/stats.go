package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/render"
	"github.com/justapithecus/radsat/journal"
)

// journalReadTimeout bounds a whole journal query.
const journalReadTimeout = 30 * time.Second

// StatsCommand returns the stats command.
// Stats returns aggregated, derived facts from a frame journal.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show journal statistics (passes, frames, commands)",
		Flags:  append(ReadOnlyFlags(), JournalFlags()...),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalReadTimeout)
	defer cancel()

	ds, err := openReadDataset(ctx, c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open journal: %v", err), exitConfigError)
	}

	st, err := journal.QueryStats(ctx, ds, journalFilter(c))
	if errors.Is(err, journal.ErrEmpty) || errors.Is(err, journal.ErrNotFound) {
		return cli.Exit("journal has no matching records", exitRuntimeError)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read journal: %v", err), exitRuntimeError)
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_journal", st)
	}
	return r.Render(st)
}

// openReadDataset opens the journal named by JournalFlags.
func openReadDataset(ctx context.Context, c *cli.Context) (lode.Dataset, error) {
	return openDataset(ctx,
		c.String("journal-backend"),
		c.String("journal-path"),
		c.String("journal-region"),
		c.String("journal-endpoint"),
		c.Bool("journal-path-style"),
	)
}

func journalFilter(c *cli.Context) journal.Filter {
	return journal.Filter{Day: c.String("day"), PassID: c.String("pass")}
}
