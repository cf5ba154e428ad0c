//go:build !windows

package relaunch

import (
	"fmt"
	"os/exec"
	"syscall"
)

// ProcessLauncher starts executables in their own session so they outlive
// the updater.
type ProcessLauncher struct{}

func (ProcessLauncher) Start(path, dir string) error {
	cmd := exec.Command(path)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	return cmd.Process.Release()
}

// StartShell has no special handling outside Windows.
func (l ProcessLauncher) StartShell(path, dir string) error {
	return l.Start(path, dir)
}
