package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }
	var finished []string
	w.OnClose = func(path string) { finished = append(finished, path) }

	if err := w.Write(Record{SessionID: "s1", Kind: "create_world", World: "world_0"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(Record{SessionID: "s1", Kind: "join_world", World: "world_0", Code: 5, Message: "nope"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	want := []string{
		filepath.Join(dir, "requests-2026-03-01-10.jsonl.zst"),
		filepath.Join(dir, "requests-2026-03-01-11.jsonl.zst"),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files=%v", files)
	}
	if len(finished) != 2 || finished[0] != want[0] || finished[1] != want[1] {
		t.Fatalf("finished=%v", finished)
	}

	var got []Record
	for _, f := range files {
		if err := ReadFile(f, func(r Record) error {
			got = append(got, r)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 2 || got[0].Kind != "create_world" || got[1].Code != 5 || got[1].Message != "nope" {
		t.Fatalf("records=%+v", got)
	}
	if got[0].Time == "" {
		t.Fatalf("time not stamped")
	}
}

func TestReadWithoutClose(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	defer w.Close()
	for i := 0; i < 3; i++ {
		if err := w.Write(Record{Kind: "step"}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	files, _ := Files(dir)
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	n := 0
	_ = ReadFile(files[0], func(Record) error { n++; return nil })
	if n != 3 {
		t.Fatalf("read %d records before close", n)
	}
}
