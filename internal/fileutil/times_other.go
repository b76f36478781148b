//go:build !linux

package fileutil

import "os"

// FileTimes falls back to the portable stat fields. Birth and access time are
// not exposed portably, so both report the modification time.
func FileTimes(path string) (Times, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Times{}, err
	}
	modified := info.ModTime()
	return Times{Created: modified, Modified: modified, Accessed: modified}, nil
}
