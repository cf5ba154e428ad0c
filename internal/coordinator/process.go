package coordinator

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ManagedProcess is a running instance of one of the suite's executables.
// User is empty when the owner could not be resolved.
type ManagedProcess struct {
	Name string
	User string
	PID  int32
}

// ProcessTable lists and terminates OS processes.
type ProcessTable interface {
	Find(name string) ([]ManagedProcess, error)
	Kill(pid int32) error
}

// SystemProcessTable is the ProcessTable backed by the operating system.
type SystemProcessTable struct{}

// Find returns every process whose executable name matches name, ignoring
// case and a trailing ".exe". Processes that vanish mid-scan are skipped.
func (SystemProcessTable) Find(name string) ([]ManagedProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var matches []ManagedProcess
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil || !sameExecutable(pname, name) {
			continue
		}
		owner, err := p.Username()
		if err != nil {
			log.Debug("could not resolve process owner", "name", pname, "pid", p.Pid, "error", err)
			owner = ""
		}
		matches = append(matches, ManagedProcess{Name: pname, User: owner, PID: p.Pid})
	}
	return matches, nil
}

// Kill terminates pid without giving it a chance to clean up.
func (SystemProcessTable) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func sameExecutable(a, b string) bool {
	return strings.EqualFold(trimExe(a), trimExe(b))
}

func trimExe(name string) string {
	if len(name) > 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		return name[:len(name)-4]
	}
	return name
}

// SameUser compares account names, ignoring a DOMAIN\ prefix and case.
func SameUser(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(stripDomain(a), stripDomain(b))
}

func stripDomain(user string) string {
	if i := strings.LastIndex(user, `\`); i >= 0 {
		return user[i+1:]
	}
	return user
}
