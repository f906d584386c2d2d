package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// BuildLock serializes index builds that write under the same data
// directory, across processes.
type BuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewBuildLock returns a lock backed by <dataDir>/.build.lock.
func NewBuildLock(dataDir string) *BuildLock {
	path := filepath.Join(dataDir, ".build.lock")
	return &BuildLock{path: path, flock: flock.New(path)}
}

// Acquire polls for the lock every retry interval until it is held or ctx
// is done. A context error is reported as ErrCodeIndexLocked.
func (l *BuildLock) Acquire(ctx context.Context, retry time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLockContext(ctx, retry)
	if err != nil || !ok {
		return kberrors.New(kberrors.ErrCodeIndexLocked, "another process is building the index", err).
			WithDetail("lock", l.path)
	}
	l.locked = true
	return nil
}

// TryAcquire takes the lock if it is free and reports whether it did.
func (l *BuildLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = ok
	return ok, nil
}

// Release unlocks. Calling it on an unheld lock is a no-op.
func (l *BuildLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *BuildLock) Path() string { return l.path }
