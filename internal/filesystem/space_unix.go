//go:build unix

package filesystem

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	"ftplite/internal/errors"
)

// AvailableSpace returns the bytes available to an unprivileged user on the
// filesystem holding dir.
func AvailableSpace(dir string) (uint64, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return 0, errors.NewTransferIOError("abs_path", dir, err)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(absPath, &stat); err != nil {
		return 0, errors.NewTransferIOError("statfs", absPath, err)
	}

	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
