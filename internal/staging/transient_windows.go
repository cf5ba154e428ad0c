//go:build windows

package staging

import (
	"errors"

	"golang.org/x/sys/windows"
)

// IsSharingViolation reports whether err means a file or directory is still
// held by another process.
func IsSharingViolation(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}

// IsAccessDenied reports whether err is a permission failure, which antivirus
// or indexing services briefly holding new files can cause.
func IsAccessDenied(err error) bool {
	return errors.Is(err, windows.ERROR_ACCESS_DENIED)
}
