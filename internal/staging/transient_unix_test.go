//go:build !windows

package staging

import (
	"errors"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestTransientClassification(t *testing.T) {
	busy := &os.LinkError{Op: "rename", Old: "a", New: "b", Err: unix.EBUSY}
	denied := &os.LinkError{Op: "rename", Old: "a", New: "b", Err: unix.EACCES}
	missing := &os.LinkError{Op: "rename", Old: "a", New: "b", Err: unix.ENOENT}

	if !IsSharingViolation(busy) {
		t.Fatal("EBUSY should be a sharing violation")
	}
	if IsSharingViolation(denied) || IsSharingViolation(missing) {
		t.Fatal("EACCES and ENOENT are not sharing violations")
	}
	if !IsAccessDenied(denied) {
		t.Fatal("EACCES should be access denied")
	}
	if IsAccessDenied(errors.New("plain")) {
		t.Fatal("plain error is not access denied")
	}
}
