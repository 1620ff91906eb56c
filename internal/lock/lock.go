// Package lock provides the advisory file lock that serializes structural
// writers of a collection's tree directory.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
)

// retryDelay is how often a busy lock is polled while waiting.
const retryDelay = 50 * time.Millisecond

// FileLock is a cross-process lock backed by gofrs/flock.
//
// A holder refreshes the lock file's mtime while it holds the lock. A lock
// file whose mtime is older than the stale duration is considered abandoned
// and is replaced, so a hung holder cannot block writers forever.
type FileLock struct {
	path    string
	timeout time.Duration
	stale   time.Duration

	mu     sync.Mutex
	flock  *flock.Flock
	locked bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a lock at path. timeout bounds Acquire; stale is the age at
// which an unrefreshed lock file may be taken over.
func New(path string, timeout, stale time.Duration) *FileLock {
	return &FileLock{
		path:    path,
		timeout: timeout,
		stale:   stale,
	}
}

// Acquire takes the lock, waiting up to the configured timeout.
// Once held, the lock file is kept fresh until Release.
func (l *FileLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.tryFor(ctx, l.timeout)
	if err != nil {
		return err
	}
	if !acquired && l.isStale() {
		slog.Warn("taking over stale lock", slog.String("path", l.path))
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
		acquired, err = l.tryFor(ctx, retryDelay)
		if err != nil {
			return err
		}
	}
	if !acquired {
		return wsberrors.New(wsberrors.ErrCodeLockTimeout,
			fmt.Sprintf("unable to acquire lock %s within %s", l.path, l.timeout), nil).
			WithSuggestion("another process is writing this collection; retry later")
	}

	l.locked = true
	l.touch()
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.keepalive(l.stopCh, l.doneCh)
	return nil
}

// tryFor polls for the lock for at most d. The flock instance is recreated
// on every attempt so a replaced lock file is picked up.
func (l *FileLock) tryFor(ctx context.Context, d time.Duration) (bool, error) {
	l.flock = flock.New(l.path)

	if d <= 0 {
		ok, err := l.flock.TryLock()
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock: %w", err)
		}
		return ok, nil
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ok, err := l.flock.TryLockContext(tctx, retryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if tctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

func (l *FileLock) isStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > l.stale
}

func (l *FileLock) touch() {
	now := time.Now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		slog.Debug("failed to refresh lock", slog.String("path", l.path), slog.String("error", err.Error()))
	}
}

// keepalive refreshes the lock file at a third of the stale interval.
func (l *FileLock) keepalive(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.stale / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.touch()
		}
	}
}

// Release releases the lock. The lock file is left in place; removing it
// would let a waiter that already opened it lock an unlinked inode.
// It's safe to call Release multiple times or on an unheld lock.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}

	close(l.stopCh)
	<-l.doneCh
	l.locked = false

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *FileLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
