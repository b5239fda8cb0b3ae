package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"envgrid.ai/internal/persistence/indexdb"
)

func openIndex(fs *flag.FlagSet, args []string) *indexdb.SQLiteIndex {
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (default: <data>/index/envgrid.sqlite)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "envgrid.sqlite")
	}
	idx, err := indexdb.OpenReadOnly(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	return idx
}

func worldsCmd(args []string) {
	fs := flag.NewFlagSet("worlds", flag.ExitOnError)
	live := fs.Bool("live", false, "only worlds not yet destroyed")
	limit := fs.Int("limit", 50, "result limit")
	idx := openIndex(fs, args)
	defer idx.Close()

	if err := listWorlds(context.Background(), os.Stdout, idx, *live, *limit); err != nil {
		fmt.Fprintln(os.Stderr, "worlds:", err)
		os.Exit(1)
	}
}

func episodesCmd(args []string) {
	fs := flag.NewFlagSet("episodes", flag.ExitOnError)
	world := fs.String("world", "", "world name (empty = all)")
	limit := fs.Int("limit", 50, "result limit")
	idx := openIndex(fs, args)
	defer idx.Close()

	if err := listEpisodes(context.Background(), os.Stdout, idx, *world, *limit); err != nil {
		fmt.Fprintln(os.Stderr, "episodes:", err)
		os.Exit(1)
	}
}

func totalsCmd(args []string) {
	fs := flag.NewFlagSet("totals", flag.ExitOnError)
	world := fs.String("world", "", "world name (required)")
	idx := openIndex(fs, args)
	defer idx.Close()

	if strings.TrimSpace(*world) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	n, reward, err := idx.EpisodeTotals(context.Background(), *world)
	if err != nil {
		fmt.Fprintln(os.Stderr, "totals:", err)
		os.Exit(1)
	}
	fmt.Printf("world=%s episodes=%d reward=%.1f\n", *world, n, reward)
}

func listWorlds(ctx context.Context, w io.Writer, idx *indexdb.SQLiteIndex, live bool, limit int) error {
	rows, err := idx.ListWorlds(ctx, live, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tRESETS\tCREATED\tDESTROYED")
	for _, r := range rows {
		destroyed := "-"
		if !r.DestroyedAt.IsZero() {
			destroyed = r.DestroyedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%dx%d\t%d\t%s\t%s\n", r.Name, r.Width, r.Height, r.Resets, r.CreatedAt.Format(time.RFC3339), destroyed)
	}
	return tw.Flush()
}

func listEpisodes(ctx context.Context, w io.Writer, idx *indexdb.SQLiteIndex, world string, limit int) error {
	rows, err := idx.ListEpisodes(ctx, world, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORLD\tAGENT\tSTEPS\tREWARD\tREASON\tENDED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f\t%s\t%s\n", r.World, r.Agent, r.Steps, r.Reward, r.Reason, r.EndedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
