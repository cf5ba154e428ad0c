//go:build windows

package relaunch

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// ProcessLauncher starts executables detached from the updater's console.
type ProcessLauncher struct{}

func (ProcessLauncher) Start(path, dir string) error {
	cmd := exec.Command(path)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	return cmd.Process.Release()
}

// StartShell goes through the shell so the overlay is started with the
// interactive user's desktop association.
func (ProcessLauncher) StartShell(path, dir string) error {
	verb, err := windows.UTF16PtrFromString("open")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	cwd, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return err
	}
	if err := windows.ShellExecute(0, verb, file, nil, cwd, windows.SW_SHOW); err != nil {
		return fmt.Errorf("shell execute %s: %w", path, err)
	}
	return nil
}
