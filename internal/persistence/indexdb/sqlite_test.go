package indexdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"envgrid.ai/internal/events"
)

func openTemp(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "envgrid.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestWorldAndEpisodeHistory(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Publish(events.Event{Type: events.WorldCreated, World: "world_0", Width: 9, Height: 9, Time: t0})
	s.Publish(events.Event{Type: events.WorldCreated, World: "world_1", Width: 5, Height: 5, Time: t0})
	s.Publish(events.Event{Type: events.AgentJoined, World: "world_0", Agent: "a_1", Time: t0})
	s.Publish(events.Event{Type: events.EpisodeEnded, World: "world_0", Agent: "a_1", Steps: 4, Reward: 1, Reason: "done", Time: t0.Add(time.Second)})
	s.Publish(events.Event{Type: events.EpisodeEnded, World: "world_0", Agent: "a_1", Steps: 2, Reason: "max_steps", Time: t0.Add(2 * time.Second)})
	s.Publish(events.Event{Type: events.WorldReset, World: "world_0", Width: 7, Height: 7, Time: t0})
	s.Publish(events.Event{Type: events.WorldDestroyed, World: "world_1", Time: t0.Add(time.Minute)})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	all, err := s.ListWorlds(ctx, false, 0)
	if err != nil {
		t.Fatalf("list worlds: %v", err)
	}
	if len(all) != 2 || all[0].Name != "world_1" || all[1].Name != "world_0" {
		t.Fatalf("worlds = %+v", all)
	}
	if all[0].DestroyedAt.IsZero() {
		t.Fatalf("world_1 not marked destroyed")
	}
	if w := all[1]; w.Resets != 1 || w.Width != 7 || !w.CreatedAt.Equal(t0) {
		t.Fatalf("world_0 = %+v", w)
	}

	live, err := s.ListWorlds(ctx, true, 10)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 1 || live[0].Name != "world_0" {
		t.Fatalf("live = %+v", live)
	}

	eps, err := s.ListEpisodes(ctx, "world_0", 10)
	if err != nil {
		t.Fatalf("list episodes: %v", err)
	}
	if len(eps) != 2 || eps[0].Reason != "max_steps" || eps[1].Steps != 4 || eps[1].Reward != 1 {
		t.Fatalf("episodes = %+v", eps)
	}

	n, reward, err := s.EpisodeTotals(ctx, "world_0")
	if err != nil || n != 2 || reward != 1 {
		t.Fatalf("totals = %d %v %v", n, reward, err)
	}
	if _, _, err := s.EpisodeTotals(ctx, "world_9"); !errors.Is(err, ErrNoWorld) {
		t.Fatalf("totals unknown world err = %v", err)
	}

	if st := s.Stats(); st.Written != 6 || st.Dropped != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestReopenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envgrid.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Publish(events.Event{Type: events.WorldCreated, World: "world_3", Width: 9, Height: 9, Time: time.Now()})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()
	ro.Publish(events.Event{Type: events.WorldCreated, World: "ignored"})
	ws, err := ro.ListWorlds(context.Background(), true, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ws) != 1 || ws[0].Name != "world_3" {
		t.Fatalf("worlds = %+v", ws)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.Publish(events.Event{Type: events.WorldCreated, World: "world_0"})
	s.Publish(events.Event{Type: events.WorldCreated, World: "world_1"})
	s.Publish(events.Event{Type: events.AgentJoined, World: "world_1"})

	st := s.Stats()
	if st.Dropped != 1 || st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestOpenReadOnlyMissing(t *testing.T) {
	if _, err := OpenReadOnly(filepath.Join(t.TempDir(), "nope.sqlite")); err == nil {
		t.Fatalf("expected error for missing index")
	}
}
