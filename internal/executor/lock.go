package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"magnolia/internal/config"
	"magnolia/internal/services"
)

// LockFileName is the advisory lock created at the destination root.
const LockFileName = config.LockFileName

// Lock guards a destination root against concurrent organize runs.
type Lock struct {
	path string
	lock *flock.Flock
}

// LockDestination takes the destination lock without blocking. A lock held by
// another process is a fatal validation error.
func LockDestination(dest string) (*Lock, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, services.Wrap(services.ErrValidation, "organize", "lock destination", dest, err)
	}
	path := filepath.Join(dest, LockFileName)
	l := &Lock{path: path, lock: flock.New(path)}
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "organize", "lock destination", path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "organize", "lock destination",
			fmt.Sprintf("another magnolia run holds %s", path), nil)
	}
	return l, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Unlock removes the lock file and releases the lock.
func (l *Lock) Unlock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	_ = os.Remove(l.path)
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release destination lock: %w", err)
	}
	return nil
}
