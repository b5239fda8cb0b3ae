package archive

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth int
	Uploaded   uint64
	Failed     uint64
	Dropped    uint64
}

// Uploader copies files to object storage from one background goroutine.
// Keys are the file path relative to root, under prefix.
type Uploader struct {
	client putter
	root   string
	prefix string
	logger *log.Logger

	attempts int
	backoff  time.Duration

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	uploaded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

func NewUploader(client putter, root, prefix string, logger *log.Logger) *Uploader {
	u := &Uploader{
		client:   client,
		root:     root,
		prefix:   strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:   logger,
		attempts: 4,
		backoff:  200 * time.Millisecond,
		jobs:     make(chan string, 256),
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		for p := range u.jobs {
			u.upload(p)
		}
	}()
	return u
}

// Enqueue schedules localPath for upload. It never blocks; a full queue
// drops the file and counts it.
func (u *Uploader) Enqueue(localPath string) {
	if u == nil {
		return
	}
	select {
	case u.jobs <- localPath:
	default:
		u.dropped.Add(1)
		u.printf("archive drop %s: queue full", localPath)
	}
}

// Close waits for queued uploads to finish.
func (u *Uploader) Close() {
	if u == nil {
		return
	}
	u.once.Do(func() {
		close(u.jobs)
		u.wg.Wait()
	})
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth: len(u.jobs),
		Uploaded:   u.uploaded.Load(),
		Failed:     u.failed.Load(),
		Dropped:    u.dropped.Load(),
	}
}

func (u *Uploader) upload(localPath string) {
	key, err := u.objectKey(localPath)
	if err != nil {
		u.failed.Add(1)
		u.printf("archive skip %s: %v", localPath, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = u.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			u.uploaded.Add(1)
			u.printf("archived %s as %s", localPath, key)
			return
		}
		if attempt >= u.attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * u.backoff)
	}
	u.failed.Add(1)
	u.printf("archive %s failed: %v", localPath, err)
}

func (u *Uploader) objectKey(localPath string) (string, error) {
	absRoot, err := filepath.Abs(u.root)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", absLocal, absRoot)
	}
	if u.prefix != "" {
		rel = path.Join(u.prefix, rel)
	}
	return rel, nil
}

func (u *Uploader) printf(format string, args ...any) {
	if u.logger != nil {
		u.logger.Printf(format, args...)
	}
}
