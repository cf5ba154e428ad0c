package updater

import "github.com/autodarkmode/adm-updater/internal/operr"

// Process exit codes.
const (
	ExitOK         = 0
	ExitNotPatched = 1
	ExitFatal      = 2
	ExitLocked     = 3
)

// Result is the outcome of Run.
type Result struct {
	Patched bool
	Locked  bool
	Err     error
}

// ExitCode maps the outcome onto the process exit code. A relaunch failure
// after a successful patch still exits cleanly.
func (r Result) ExitCode() int {
	switch {
	case r.Locked:
		return ExitLocked
	case operr.IsSevere(r.Err):
		return ExitFatal
	case r.Patched:
		return ExitOK
	default:
		return ExitNotPatched
	}
}
