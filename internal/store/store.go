package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLockTimeout is returned when a queued operation waits longer than the
// manager's lock timeout. A timed-out operation is discarded and never runs.
var ErrLockTimeout = errors.New("store: lock acquisition timed out")

// UpdateFunc receives the current document bytes (nil if the file does not
// exist yet) and returns the replacement document. Returning an error rejects
// the operation without touching the file.
type UpdateFunc func(doc []byte) ([]byte, error)

// Options configures a Manager.
type Options struct {
	LockTimeout time.Duration // max wait for a queued operation (default 30s)
	LockStale   time.Duration // age after which a foreign lock file is broken (default 60s)
	LockPoll    time.Duration // retry interval while another process holds the lock (default 25ms)
}

// Manager serializes mutations of file-backed JSON documents. Operations
// against the same path run strictly FIFO on a single worker goroutine;
// operations against different paths do not block each other. A companion
// <path>.lock file provides cross-process exclusion, since the in-process
// queue alone cannot protect against a second OS process sharing the state
// directory.
type Manager struct {
	opts   Options
	mu     sync.Mutex
	queues map[string]*pathQueue
}

type pathQueue struct {
	ops []*op
	// worker running flag; guarded by Manager.mu
	active bool
}

type op struct {
	fn       UpdateFunc
	deadline time.Time
	// claimed resolves the race between the worker starting the operation
	// and the caller abandoning it at timeout: whoever flips it first wins.
	claimed atomic.Bool
	done    chan error
}

// NewManager creates a per-process lock registry. Construct one Manager and
// share it across every store built on the same state directory.
func NewManager(opts Options) *Manager {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 30 * time.Second
	}
	if opts.LockStale <= 0 {
		opts.LockStale = 60 * time.Second
	}
	if opts.LockPoll <= 0 {
		opts.LockPoll = 25 * time.Millisecond
	}
	return &Manager{
		opts:   opts,
		queues: make(map[string]*pathQueue),
	}
}

// Read returns the current document bytes, or nil if the file does not exist.
// Reads do not enter the mutation queue: writes are atomic (temp file +
// rename), so a reader never observes a half-written document, and list/status
// callers are never blocked behind a slow mutation.
func (m *Manager) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return data, nil
}

// Update enqueues fn against path and waits for it to run. Queued operations
// for the same path execute in submission order; a failing fn rejects only its
// own caller and the queue keeps draining. If the wait exceeds the lock
// timeout the caller receives ErrLockTimeout and the operation is discarded —
// it is never executed later, even if the lock frees up immediately after.
func (m *Manager) Update(ctx context.Context, path string, fn UpdateFunc) error {
	o := &op{
		fn:       fn,
		deadline: time.Now().Add(m.opts.LockTimeout),
		done:     make(chan error, 1),
	}

	m.mu.Lock()
	q := m.queues[path]
	if q == nil {
		q = &pathQueue{}
		m.queues[path] = q
	}
	q.ops = append(q.ops, o)
	if !q.active {
		q.active = true
		go m.drain(path, q)
	}
	m.mu.Unlock()

	timer := time.NewTimer(time.Until(o.deadline))
	defer timer.Stop()

	select {
	case err := <-o.done:
		return err
	case <-timer.C:
		if o.claimed.CompareAndSwap(false, true) {
			return ErrLockTimeout
		}
		// The worker claimed the operation just before the timer fired;
		// it is already running, so wait for its real outcome.
		return <-o.done
	case <-ctx.Done():
		if o.claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		return <-o.done
	}
}

// drain runs queued operations for one path until the queue is empty, then
// removes the per-path bookkeeping so idle paths do not accumulate across the
// process lifetime.
func (m *Manager) drain(path string, q *pathQueue) {
	for {
		m.mu.Lock()
		if len(q.ops) == 0 {
			q.active = false
			delete(m.queues, path)
			m.mu.Unlock()
			return
		}
		o := q.ops[0]
		q.ops = q.ops[1:]
		m.mu.Unlock()

		if !o.claimed.CompareAndSwap(false, true) {
			continue // abandoned at timeout; never run it
		}
		o.done <- m.apply(path, o)
	}
}

// apply acquires the lock file, runs the operation, persists the result, and
// releases the lock on every exit path.
func (m *Manager) apply(path string, o *op) (err error) {
	lockPath := path + ".lock"
	if lockErr := m.acquireLock(lockPath, o.deadline); lockErr != nil {
		return lockErr
	}
	defer func() {
		if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("store: failed to remove lock file", "path", lockPath, "error", rmErr)
		}
	}()

	current, err := m.Read(path)
	if err != nil {
		return err
	}

	next, err := o.fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil // no-op mutation
	}

	return writeAtomic(path, next)
}

// acquireLock creates <path>.lock exclusively, retrying until deadline.
// A lock file older than LockStale is assumed abandoned by a dead process
// and broken.
func (m *Manager) acquireLock(lockPath string, deadline time.Time) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("store: create lock directory: %w", err)
	}
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().UnixMilli())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("store: create lock file: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > m.opts.LockStale {
				slog.Warn("store: breaking stale lock file", "path", lockPath)
				_ = os.Remove(lockPath)
				continue
			}
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(m.opts.LockPoll)
	}
}

// writeAtomic writes data via a temp file and rename so lock-free readers
// never observe a partial document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: replace %s: %w", path, err)
	}
	return nil
}

// PendingOps reports the number of queued operations for a path. Used by
// status surfaces and tests.
func (m *Manager) PendingOps(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[path]
	if q == nil {
		return 0
	}
	return len(q.ops)
}
