// Package instancelock keeps two updater processes from working on the same
// installation at once.
package instancelock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("another updater instance is running")

// Lock is an exclusive advisory lock on a file. The lock is released by
// Release or when the process exits.
type Lock struct {
	file *os.File
}

// Acquire takes the lock at path without blocking and writes the caller's
// pid into the file for diagnostics.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file. The file itself is left in
// place so a concurrent Acquire never locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
