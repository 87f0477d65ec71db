//go:build unix

package container

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/manualbox/manualbox/pkg/errors"
)

// Lock is an advisory lock on a container, held while it is mounted.
type Lock struct {
	file *os.File
}

// AcquireLock takes an exclusive flock on "<path>.lock". It fails with
// ErrContainerLocked if another process holds it.
func AcquireLock(path string) (*Lock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeContainerRead, "open lock file").
			WithComponent("container").
			WithContext("path", lockPath)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.NewError(errors.ErrCodeContainerLocked, "container is in use").
				WithComponent("container").
				WithContext("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeContainerRead, "lock container").
			WithComponent("container").
			WithContext("path", lockPath)
	}
	return &Lock{file: f}, nil
}

// Release drops the lock. The lock file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
