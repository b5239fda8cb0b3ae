// Package indexdb keeps a queryable SQLite history of worlds and episodes.
// The request journal stays the source of truth; the index may drop rows
// when it falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"envgrid.ai/internal/events"
)

const timeLayout = time.RFC3339Nano

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqFlush
)

type req struct {
	kind  reqKind
	event events.Event
	done  chan struct{}
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Written       uint64
	Dropped       uint64
}

type WorldRow struct {
	Name        string
	Width       int
	Height      int
	Resets      int
	CreatedAt   time.Time
	DestroyedAt time.Time // zero while live
}

type EpisodeRow struct {
	World   string
	Agent   string
	Steps   int
	Reward  float32
	Reason  string
	EndedAt time.Time
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

// OpenReadOnly opens an existing index for queries only. No writer runs.
func OpenReadOnly(path string) (*SQLiteIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteIndex{db: db}
	s.closed.Store(true)
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS worlds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			resets INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			destroyed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worlds_name ON worlds(name, destroyed_at);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world TEXT NOT NULL,
			agent TEXT NOT NULL,
			steps INTEGER NOT NULL,
			reward REAL NOT NULL,
			reason TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_world ON episodes(world, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if s.ch != nil {
			close(s.ch)
			s.wg.Wait()
		}
		err = s.db.Close()
	})
	return err
}

// Publish queues e for indexing. It never blocks; a full queue drops e.
func (s *SQLiteIndex) Publish(e events.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	switch e.Type {
	case events.WorldCreated, events.WorldDestroyed, events.WorldReset, events.EpisodeEnded:
	default:
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropped.Add(1)
	}
}

// Flush waits until every event queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			if r.kind == reqFlush {
				commit()
				close(r.done)
				continue
			}
			begin()
			if tx == nil {
				s.dropped.Add(1)
				continue
			}
			if err := apply(tx, r.event); err != nil {
				rollback()
				s.dropped.Add(1)
				continue
			}
			s.written.Add(1)
			opCount++
			if opCount >= commitEvery {
				commit()
			}
		}
	}
}

func apply(tx *sql.Tx, e events.Event) error {
	at := e.Time.UTC().Format(timeLayout)
	var err error
	switch e.Type {
	case events.WorldCreated:
		_, err = tx.Exec(`INSERT INTO worlds(name,width,height,created_at) VALUES(?,?,?,?)`, e.World, e.Width, e.Height, at)
	case events.WorldDestroyed:
		_, err = tx.Exec(`UPDATE worlds SET destroyed_at=? WHERE name=? AND destroyed_at IS NULL`, at, e.World)
	case events.WorldReset:
		_, err = tx.Exec(`UPDATE worlds SET resets=resets+1, width=?, height=? WHERE name=? AND destroyed_at IS NULL`, e.Width, e.Height, e.World)
	case events.EpisodeEnded:
		_, err = tx.Exec(`INSERT INTO episodes(world,agent,steps,reward,reason,ended_at) VALUES(?,?,?,?,?,?)`, e.World, e.Agent, e.Steps, e.Reward, e.Reason, at)
	default:
		err = fmt.Errorf("unindexed event %q", e.Type)
	}
	return err
}

// ListWorlds returns the most recently created worlds first. live limits the
// result to worlds not yet destroyed.
func (s *SQLiteIndex) ListWorlds(ctx context.Context, live bool, limit int) ([]WorldRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT name,width,height,resets,created_at,destroyed_at FROM worlds`
	if live {
		q += ` WHERE destroyed_at IS NULL`
	}
	q += ` ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorldRow
	for rows.Next() {
		var (
			w         WorldRow
			created   string
			destroyed sql.NullString
		)
		if err := rows.Scan(&w.Name, &w.Width, &w.Height, &w.Resets, &created, &destroyed); err != nil {
			return nil, err
		}
		w.CreatedAt, _ = time.Parse(timeLayout, created)
		if destroyed.Valid {
			w.DestroyedAt, _ = time.Parse(timeLayout, destroyed.String)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListEpisodes returns the latest episodes, newest first. An empty world
// lists across all worlds.
func (s *SQLiteIndex) ListEpisodes(ctx context.Context, world string, limit int) ([]EpisodeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT world,agent,steps,reward,reason,ended_at FROM episodes`
	if world == "" {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE world=? ORDER BY id DESC LIMIT ?`, world, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EpisodeRow
	for rows.Next() {
		var (
			e     EpisodeRow
			ended string
		)
		if err := rows.Scan(&e.World, &e.Agent, &e.Steps, &e.Reward, &e.Reason, &ended); err != nil {
			return nil, err
		}
		e.EndedAt, _ = time.Parse(timeLayout, ended)
		out = append(out, e)
	}
	return out, rows.Err()
}

var ErrNoWorld = errors.New("world not indexed")

// EpisodeTotals sums the recorded episodes of one world.
func (s *SQLiteIndex) EpisodeTotals(ctx context.Context, world string) (episodes int, reward float64, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(reward),0) FROM episodes WHERE world=?`, world)
	if err := row.Scan(&episodes, &reward); err != nil {
		return 0, 0, err
	}
	if episodes == 0 {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM worlds WHERE name=?`, world).Scan(&n); err != nil {
			return 0, 0, err
		}
		if n == 0 {
			return 0, 0, fmt.Errorf("%w: %s", ErrNoWorld, world)
		}
	}
	return episodes, reward, nil
}
