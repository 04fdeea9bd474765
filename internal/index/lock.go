package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// LockFileName is created in the data directory while an ingestion runs.
const LockFileName = ".index.lock"

const lockRetryDelay = 100 * time.Millisecond

// DataDirLock serializes ingestion runs across processes. Readers never
// take it: SQLite WAL mode lets search keep going while the indexer writes.
type DataDirLock struct {
	flock *flock.Flock
}

// NewDataDirLock prepares the lock file for dataDir without acquiring it.
func NewDataDirLock(dataDir string) *DataDirLock {
	return &DataDirLock{flock: flock.New(filepath.Join(dataDir, LockFileName))}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *DataDirLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ok, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return pgerrors.New(pgerrors.ErrCodeIndexFailed, "cannot lock data directory", err).
			WithSuggestion("Another 'pgwsearch index' may be running; wait for it to finish")
	}
	if !ok {
		return pgerrors.New(pgerrors.ErrCodeIndexFailed, "data directory is locked by another indexer", nil)
	}
	return nil
}

// TryAcquire takes the lock only if it is free.
func (l *DataDirLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return false, fmt.Errorf("create data directory: %w", err)
	}
	return l.flock.TryLock()
}

// Release unlocks; calling it on an unheld lock is a no-op.
func (l *DataDirLock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release data directory lock: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *DataDirLock) Path() string { return l.flock.Path() }
