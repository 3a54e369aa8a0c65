package store

import (
	"fmt"
	"os"
	"time"
)

const (
	lockRetries    = 100
	lockRetryDelay = 10 * time.Millisecond
)

// FileLock is a short-lived advisory lock backed by an exclusively-created
// file. It guards only the final head-swap of a transaction commit; all
// other coordination is optimistic. Stale locks from crashed processes are
// broken after a timeout based on the lock file's mtime.
type FileLock struct {
	path string
}

// AcquireLock takes the lock at path, retrying briefly on contention.
// Returns ErrLockContended when the retry budget runs out.
func AcquireLock(path string) (*FileLock, error) {
	for i := 0; i < lockRetries; i++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &FileLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		// Break locks left behind by a crashed holder.
		if info, serr := os.Stat(path); serr == nil {
			if time.Since(info.ModTime()) > 10*time.Second {
				os.Remove(path)
				continue
			}
		}
		time.Sleep(lockRetryDelay)
	}
	return nil, fmt.Errorf("lock %s: %w", path, ErrLockContended)
}

// Release removes the lock file.
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
