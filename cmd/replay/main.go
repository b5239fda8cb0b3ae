package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"

	"envgrid.ai/internal/persistence/journal"
)

type filter struct {
	Session string
	World   string
	Kind    string
}

func (f filter) match(r journal.Record) bool {
	if f.Session != "" && r.SessionID != f.Session {
		return false
	}
	if f.World != "" && r.World != f.World {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}

type key struct {
	Kind string
	Code int
}

type bucket struct {
	Count   int
	TotalMS float64
	MaxMS   float64
}

type report struct {
	Files    int
	Records  int
	Sessions map[string]struct{}
	Worlds   map[string]struct{}
	Buckets  map[key]*bucket
}

func main() {
	var (
		dir     = flag.String("journal", "./data/journal", "journal directory containing requests-*.jsonl.zst")
		session = flag.String("session", "", "only this session id")
		world   = flag.String("world", "", "only this world")
		kind    = flag.String("kind", "", "only this request kind (e.g. step)")
		verbose = flag.Bool("v", false, "print every matching record")
	)
	flag.Parse()

	files, err := journal.Files(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files in", *dir)
		os.Exit(1)
	}
	var out io.Writer
	if *verbose {
		out = os.Stdout
	}
	rep, err := summarize(files, filter{Session: *session, World: *world, Kind: *kind}, out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	printReport(os.Stdout, rep)
}

// summarize folds every matching record into a report. When verbose is
// non-nil each record is also printed as it is read.
func summarize(files []string, f filter, verbose io.Writer) (report, error) {
	rep := report{
		Files:    len(files),
		Sessions: map[string]struct{}{},
		Worlds:   map[string]struct{}{},
		Buckets:  map[key]*bucket{},
	}
	for _, path := range files {
		err := journal.ReadFile(path, func(r journal.Record) error {
			if !f.match(r) {
				return nil
			}
			rep.Records++
			rep.Sessions[r.SessionID] = struct{}{}
			if r.World != "" {
				rep.Worlds[r.World] = struct{}{}
			}
			k := key{Kind: r.Kind, Code: r.Code}
			b := rep.Buckets[k]
			if b == nil {
				b = &bucket{}
				rep.Buckets[k] = b
			}
			b.Count++
			b.TotalMS += r.DurationMS
			if r.DurationMS > b.MaxMS {
				b.MaxMS = r.DurationMS
			}
			if verbose != nil {
				fmt.Fprintf(verbose, "%s session=%s peer=%s kind=%s world=%s code=%s dur_ms=%.3f %s\n",
					r.Time, r.SessionID, r.Peer, r.Kind, r.World,
					codes.Code(r.Code), r.DurationMS, r.Message)
			}
			return nil
		})
		if err != nil {
			return rep, fmt.Errorf("%s: %w", path, err)
		}
	}
	return rep, nil
}

func printReport(w io.Writer, rep report) {
	fmt.Fprintf(w, "files=%d records=%d sessions=%d worlds=%d\n", rep.Files, rep.Records, len(rep.Sessions), len(rep.Worlds))
	keys := make([]key, 0, len(rep.Buckets))
	for k := range rep.Buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].Code < keys[j].Code
	})
	for _, k := range keys {
		b := rep.Buckets[k]
		fmt.Fprintf(w, "%-14s %-18s count=%-6d avg_ms=%.3f max_ms=%.3f\n",
			k.Kind, strings.ToLower(codes.Code(k.Code).String()), b.Count, b.TotalMS/float64(b.Count), b.MaxMS)
	}
}
