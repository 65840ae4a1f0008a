package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	defaultLockTimeout = 5 * time.Second
	defaultLockRetry   = 25 * time.Millisecond
)

// ErrLockTimeout is returned when the cross-process lock could not be taken in time.
var ErrLockTimeout = errors.New("outbox: lock not acquired before deadline")

// Entry is an order accepted while the order store was unavailable.
type Entry struct {
	OrderNumber string          `json:"orderNumber"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// DepthObserver is notified with the entry count after every mutation.
type DepthObserver interface {
	SetOutboxDepth(depth int)
}

// Options configures a Queue.
type Options struct {
	Path        string
	LockTimeout time.Duration
	LockRetry   time.Duration
	Depth       DepthObserver
	Now         func() time.Time
}

// Queue is a durable list of pending orders backed by a single JSON file.
// Every mutation rewrites the whole file via tmp+fsync+rename while holding
// both an in-process mutex and an advisory file lock at <path>.lock.
type Queue struct {
	path        string
	mu          sync.Mutex
	flock       *flock.Flock
	lockTimeout time.Duration
	lockRetry   time.Duration
	depth       DepthObserver
	now         func() time.Time
}

// New prepares the queue directory; the file itself is created on first append.
func New(opts Options) (*Queue, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("outbox path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.LockRetry <= 0 {
		opts.LockRetry = defaultLockRetry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		path:        path,
		flock:       flock.New(path + ".lock"),
		lockTimeout: opts.LockTimeout,
		lockRetry:   opts.LockRetry,
		depth:       opts.Depth,
		now:         opts.Now,
	}, nil
}

// Path returns the backing file location.
func (q *Queue) Path() string {
	return q.path
}

// Append adds entry to the end of the queue.
func (q *Queue) Append(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.OrderNumber) == "" {
		return errors.New("outbox entry order number required")
	}
	if len(entry.Payload) == 0 {
		return errors.New("outbox entry payload required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = q.now().UTC()
	}
	return q.withLock(ctx, func() error {
		entries, err := q.read()
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return q.write(entries)
	})
}

// ListAll returns every entry in append order. A missing or empty file yields none.
func (q *Queue) ListAll(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := q.withLock(ctx, func() error {
		var err error
		entries, err = q.read()
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// RemoveByOrderNumber drops every entry whose order number is in numbers and
// returns how many remain. Entries appended since the caller's ListAll are kept.
func (q *Queue) RemoveByOrderNumber(ctx context.Context, numbers map[string]struct{}) (int, error) {
	if len(numbers) == 0 {
		return q.Len(ctx)
	}
	remaining := 0
	err := q.withLock(ctx, func() error {
		entries, err := q.read()
		if err != nil {
			return err
		}
		kept := entries[:0]
		for _, entry := range entries {
			if _, drop := numbers[entry.OrderNumber]; drop {
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == len(entries) {
			remaining = len(kept)
			return nil
		}
		remaining = len(kept)
		return q.write(kept)
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (q *Queue) withLock(ctx context.Context, fn func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, q.lockTimeout)
	defer cancel()

	locked, err := q.flock.TryLockContext(lockCtx, q.lockRetry)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrLockTimeout
		}
		return fmt.Errorf("outbox lock: %w", err)
	}
	if !locked {
		return ErrLockTimeout
	}
	defer func() { _ = q.flock.Unlock() }()

	return fn()
}

func (q *Queue) read() ([]Entry, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode outbox %s: %w", q.path, err)
	}
	return entries, nil
}

func (q *Queue) write(entries []Entry) error {
	if len(entries) == 0 {
		if err := os.Remove(q.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove outbox: %w", err)
		}
		q.observe(0)
		return nil
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode outbox: %w", err)
	}

	tmp := q.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open outbox tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write outbox tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync outbox tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close outbox tmp: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("replace outbox: %w", err)
	}
	syncDir(filepath.Dir(q.path))
	q.observe(len(entries))
	return nil
}

func (q *Queue) observe(depth int) {
	if q.depth != nil {
		q.depth.SetOutboxDepth(depth)
	}
}

// syncDir flushes the rename; not every platform supports fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
