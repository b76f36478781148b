//go:build linux

package fileutil

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FileTimes reads birth, modification and access time for path without
// following symlinks. Filesystems that do not record a birth time report the
// modification time as Created.
func FileTimes(path string) (Times, error) {
	var stx unix.Statx_t
	mask := unix.STATX_BTIME | unix.STATX_MTIME | unix.STATX_ATIME
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, mask, &stx)
	if errors.Is(err, unix.ENOSYS) {
		return statTimes(path)
	}
	if err != nil {
		return Times{}, &os.PathError{Op: "statx", Path: path, Err: err}
	}
	times := Times{
		Modified: statxTime(stx.Mtime),
		Accessed: statxTime(stx.Atime),
	}
	if stx.Mask&unix.STATX_BTIME != 0 && stx.Btime.Sec != 0 {
		times.Created = statxTime(stx.Btime)
		times.BirthKnown = true
	} else {
		times.Created = times.Modified
	}
	return times, nil
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

func statTimes(path string) (Times, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Times{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	modified := time.Unix(st.Mtim.Unix())
	return Times{
		Created:  modified,
		Modified: modified,
		Accessed: time.Unix(st.Atim.Unix()),
	}, nil
}
