package fps

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// LockFile is the single PID/lock file that prevents two FPS instances
// from fighting over the same CAN buses (spec §6 "Persisted state").
// Acquisition mirrors the behavior of Python's zc.lockfile.LockFile that
// original_source/src/jaeger/fps.py relies on: a stale lock (PID no longer
// alive) is reclaimed rather than treated as held.
type LockFile struct {
	path string
}

// AcquireLockFile creates (or reclaims) the lock file at path, writing the
// current process's PID. Returns ErrLockFileHeld if a live process already
// holds it.
func AcquireLockFile(path string) (*LockFile, error) {
	if held, pid := lockHeldBy(path); held {
		return nil, fmt.Errorf("%w: pid %d", ErrLockFileHeld, pid)
	}

	// Either no file, or a stale one naming a dead pid: remove and recreate.
	_ = os.Remove(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if held, pid := lockHeldBy(path); held {
				return nil, fmt.Errorf("%w: pid %d", ErrLockFileHeld, pid)
			}
		}
		return nil, fmt.Errorf("lockfile: creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return nil, fmt.Errorf("lockfile: writing %s: %w", path, err)
	}

	return &LockFile{path: path}, nil
}

// Release removes the lock file. Idempotent.
func (l *LockFile) Release() error {
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// lockHeldBy reports whether path names a still-alive process.
func lockHeldBy(path string) (bool, int) {
	body, err := os.ReadFile(path)
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil || pid <= 0 {
		return false, 0
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return false, pid
	}
	return true, pid
}
