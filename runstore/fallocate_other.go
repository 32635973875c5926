//go:build !linux

package runstore

import "os"

// fallocate is a no-op on platforms without a block-reservation syscall
// that can leave the file length untouched.
func fallocate(_ *os.File, _ int64) error {
	return nil
}
