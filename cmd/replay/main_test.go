package main

import (
	"bytes"
	"strings"
	"testing"

	"envgrid.ai/internal/persistence/journal"
)

func TestSummarizeFiltersAndBuckets(t *testing.T) {
	dir := t.TempDir()
	w := journal.NewWriter(dir)
	recs := []journal.Record{
		{SessionID: "s1", Kind: "create_world", World: "world_0", DurationMS: 2},
		{SessionID: "s1", Kind: "join_world", World: "world_0", DurationMS: 1},
		{SessionID: "s1", Kind: "step", World: "world_0", DurationMS: 4},
		{SessionID: "s1", Kind: "step", World: "world_0", DurationMS: 6},
		{SessionID: "s2", Kind: "join_world", World: "world_9", Code: 5, Message: "JoinWorld Failed: world_9 not found"},
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := journal.Files(dir)
	if err != nil || len(files) == 0 {
		t.Fatalf("files = %v %v", files, err)
	}

	rep, err := summarize(files, filter{}, nil)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if rep.Records != 5 || len(rep.Sessions) != 2 || len(rep.Worlds) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	step := rep.Buckets[key{Kind: "step"}]
	if step == nil || step.Count != 2 || step.TotalMS != 10 || step.MaxMS != 6 {
		t.Fatalf("step bucket = %+v", step)
	}

	var verbose bytes.Buffer
	rep, err = summarize(files, filter{Session: "s2"}, &verbose)
	if err != nil {
		t.Fatalf("summarize s2: %v", err)
	}
	if rep.Records != 1 || !strings.Contains(verbose.String(), "code=NotFound") {
		t.Fatalf("filtered report = %+v verbose=%q", rep, verbose.String())
	}

	var out bytes.Buffer
	printReport(&out, rep)
	if !strings.Contains(out.String(), "join_world") || !strings.Contains(out.String(), "notfound") {
		t.Fatalf("report output = %q", out.String())
	}
}
