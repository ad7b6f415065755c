//go:build darwin

package fs

import (
	"golang.org/x/sys/unix"
)

// FullSync commits f's contents all the way to stable storage.
//
// On Darwin, [File.Sync] (fsync(2)) only flushes the drive's write cache
// to volatile RAM, not to the platter/flash itself. FullSync issues
// F_FULLFSYNC via fcntl(2), which is the documented way to get an actual
// storage barrier on this platform. If F_FULLFSYNC fails (some
// filesystems don't support it), FullSync falls back to Sync.
func FullSync(f File) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
	if err == nil {
		return nil
	}

	return f.Sync()
}
