package wal

import (
	"fmt"
	"syscall"

	"github.com/calvinalkan/kvcore/pkg/fs"
)

// truncateFile shrinks f to size bytes via Ftruncate, mirroring the
// teacher's internal/store/wal.go truncateWal helper.
func truncateFile(f fs.File, size int64) error {
	fd := f.Fd()

	if err := syscall.Ftruncate(int(fd), size); err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}

	return nil
}
