package utils

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory exclusive lock on a file, used to enforce that at
// most one process has a store directory open at a time.
type FileLock struct {
	file *os.File
}

// AcquireFileLock opens (creating if necessary) the file at path and takes
// a non-blocking exclusive flock on it. If another process already holds
// the lock, it returns an error immediately rather than blocking.
func AcquireFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("directory is locked by another process: %w", err)
	}

	return &FileLock{file: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
