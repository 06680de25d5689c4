package workspace

import (
	"fmt"
	"path/filepath"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/gofrs/flock"
)

const lockName = ".aerominds.lock"

// Lock marks a workspace as owned by one run.
type Lock struct {
	fl *flock.Flock
}

// Lock takes exclusive ownership of the workspace. A second attempt while
// the first lock is held fails with entity.ErrWorkspaceBusy. The lock is an
// advisory file lock, so the kernel drops it when the owning process dies
// and a lock file left behind by a crash does not block the next run.
func (w *Workspace) Lock() (*Lock, error) {
	fl := flock.New(filepath.Join(w.root, lockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, entity.NewIOError("lock workspace", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrWorkspaceBusy, w.root)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. The lock file stays on disk.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return entity.NewIOError("unlock workspace", err)
	}
	return nil
}
