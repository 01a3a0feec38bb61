//go:build !unix

package credwatch

import "os"

// fileIdentity has no portable device/inode pair outside unix; mtime and
// size alone still detect in-place rewrites and size changes, just not an
// atomic rename-replace that preserves both.
func fileIdentity(info os.FileInfo) (device, inode uint64) {
	return 0, 0
}
