package archive

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
	LastSuccess   time.Time
}

type uploader interface {
	Key(rel string) string
	PutFile(ctx context.Context, key, localPath string) error
}

// Mirror uploads closed files from a background queue. Enqueue never blocks
// longer than the configured wait; files that do not fit are dropped and
// counted.
type Mirror struct {
	up      uploader
	dataDir string
	log     *slog.Logger
	wait    time.Duration
	retries int
	backoff time.Duration

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
}

type MirrorOptions struct {
	Workers     int
	Queue       int
	EnqueueWait time.Duration
	Log         *slog.Logger
}

func NewMirror(c *Client, dataDir string, opts MirrorOptions) *Mirror {
	return newMirror(c, dataDir, opts)
}

func newMirror(up uploader, dataDir string, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		log:     log.With("component", "archive"),
		wait:    opts.EnqueueWait,
		retries: 4,
		backoff: 200 * time.Millisecond,
		jobs:    make(chan string, opts.Queue),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.wait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		m.dropped.Add(1)
		m.log.Warn("mirror queue full; dropping file", "path", localPath)
	}
}

// Close waits for queued uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	s := Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
	}
	if ms := m.lastSuccess.Load(); ms > 0 {
		s.LastSuccess = time.UnixMilli(ms).UTC()
	}
	return s
}

func (m *Mirror) upload(localPath string) {
	rel, err := m.relative(localPath)
	if err != nil {
		m.failed.Add(1)
		m.log.Warn("mirror skip", "path", localPath, "err", err)
		return
	}
	key := m.up.Key(rel)
	var lastErr error
	for attempt := 1; attempt <= m.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().UnixMilli())
			m.log.Info("mirrored", "key", key)
			return
		}
		if attempt < m.retries {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	m.failed.Add(1)
	m.log.Warn("mirror upload failed", "key", key, "err", lastErr)
}

func (m *Mirror) relative(localPath string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	return rel, nil
}
