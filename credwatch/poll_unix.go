//go:build unix

package credwatch

import (
	"os"
	"syscall"
)

// fileIdentity extracts the device/inode pair used to detect atomic
// rename-replace and symlink-retarget changes that leave mtime untouched.
func fileIdentity(info os.FileInfo) (device, inode uint64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(st.Dev), uint64(st.Ino) //nolint:unconvert
}
