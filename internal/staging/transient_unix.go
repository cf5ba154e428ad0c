//go:build !windows

package staging

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsSharingViolation reports whether err means a file or directory is still
// held by another process.
func IsSharingViolation(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ETXTBSY)
}

// IsAccessDenied reports whether err is a permission failure, which scanners
// briefly holding new files can cause.
func IsAccessDenied(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM)
}
