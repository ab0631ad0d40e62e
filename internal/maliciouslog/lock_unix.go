//go:build unix

package maliciouslog

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile acquires an exclusive lock on f using flock.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// unlockFile releases the lock on f.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
