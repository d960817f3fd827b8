package fsio

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// lockRetryInterval is how often a blocked acquirer re-polls the flock.
const lockRetryInterval = 100 * time.Millisecond

// Lock is a held advisory file lock. Release it with Unlock on every path,
// including errors.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes an exclusive advisory lock on path, creating the lock
// file (and its parent directory) if needed. Acquisition is bounded by
// timeout; on expiry the caller gets LOCK_TIMEOUT. Cancellation of ctx is
// observed within one retry interval.
func AcquireLock(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(path)
	ok, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil && lockCtx.Err() == nil {
		return nil, err
	}
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, protocol.NewError(protocol.ErrLockTimeout,
			"could not acquire lock within %s", timeout)
	}
	return &Lock{fl: fl}, nil
}

// Unlock releases the lock. Safe to call once on every return path.
func (l *Lock) Unlock() {
	if l != nil && l.fl != nil {
		l.fl.Unlock()
	}
}
