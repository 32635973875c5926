//go:build linux

package runstore

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// fallocate reserves disk blocks up to size so later appends cannot fail
// with a mid-run disk-full error. KEEP_SIZE leaves the file length alone;
// AppendOffset must keep reporting the end of written data.
func fallocate(file *os.File, size int64) error {
	err := unix.Fallocate(int(file.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL) {
		// Some filesystems (NFS among them) reject fallocate; reservation
		// is best-effort there.
		return nil
	}
	return err
}
