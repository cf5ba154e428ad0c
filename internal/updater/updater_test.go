package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/autodarkmode/adm-updater/internal/config"
	"github.com/autodarkmode/adm-updater/internal/coordinator"
	"github.com/autodarkmode/adm-updater/internal/instancelock"
	"github.com/autodarkmode/adm-updater/internal/ipc"
	"github.com/autodarkmode/adm-updater/internal/operr"
	"github.com/autodarkmode/adm-updater/internal/staging"
)

type offlineMessenger struct {
	commands []string
}

func (m *offlineMessenger) SendAndWait(_ context.Context, command string, _ time.Duration, _ string) (ipc.ApiResponse, error) {
	m.commands = append(m.commands, command)
	return ipc.ApiResponse{}, &ipc.ChannelError{Message: "no listener", IsTimeout: true}
}

type processTable struct {
	running map[string][]coordinator.ManagedProcess
}

func (p *processTable) Find(name string) ([]coordinator.ManagedProcess, error) {
	return p.running[name], nil
}

func (p *processTable) Kill(int32) error { return nil }

type recordingLauncher struct {
	started []string
}

func (l *recordingLauncher) Start(path, _ string) error {
	l.started = append(l.started, path)
	return nil
}

func (l *recordingLauncher) StartShell(path, _ string) error {
	l.started = append(l.started, path)
	return nil
}

type harness struct {
	cfg       *config.Config
	messenger *offlineMessenger
	table     *processTable
	launcher  *recordingLauncher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.RootDir = t.TempDir()
	cfg.RenameBackoffMs = 1
	cfg.KillIntervalMs = 1
	return &harness{
		cfg:       cfg,
		messenger: &offlineMessenger{},
		table:     &processTable{},
		launcher:  &recordingLauncher{},
	}
}

func (h *harness) run(t *testing.T, opts Options) Result {
	t.Helper()
	u := New(h.cfg, Deps{Messenger: h.messenger, Processes: h.table, Launcher: h.launcher})
	return u.Run(context.Background(), opts)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func (h *harness) installOld(t *testing.T) {
	writeFile(t, h.cfg.ServicePath(), "old service")
	writeFile(t, filepath.Join(h.cfg.AppDir(), "lib", "old.dll"), "old lib")
}

func (h *harness) stagePayload(t *testing.T) {
	writeFile(t, filepath.Join(h.cfg.PayloadDir(), h.cfg.ServiceExe), "new service")
	writeFile(t, filepath.Join(h.cfg.PayloadDir(), "lib", "new.dll"), "new lib")
}

func TestRunUpdatesInstallation(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)
	h.stagePayload(t)

	res := h.run(t, Options{CurrentUser: "sam"})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if code := res.ExitCode(); code != ExitOK {
		t.Fatalf("exit code = %d, want %d", code, ExitOK)
	}

	if got := readFile(t, h.cfg.ServicePath()); got != "new service" {
		t.Fatalf("service = %q, want new binary", got)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.AppDir(), "lib", "old.dll")); !os.IsNotExist(err) {
		t.Fatal("old files must not survive the patch")
	}
	for _, dir := range []string{h.cfg.StagingDir(), h.cfg.PayloadDir(), h.cfg.UpdateDataDir()} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed", dir)
		}
	}

	if len(h.launcher.started) != 1 || h.launcher.started[0] != h.cfg.ServicePath() {
		t.Fatalf("started = %v, want service only", h.launcher.started)
	}
	for _, c := range h.messenger.commands {
		if c == ipc.CommandUpdateFailed {
			t.Fatal("update-failed must not be sent after a successful patch")
		}
	}

	rec, err := staging.ReadJournal(h.cfg.JournalPath())
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if rec.State != staging.StateCleaned {
		t.Fatalf("journal state = %s, want %s", rec.State, staging.StateCleaned)
	}
}

func TestRunRestartsRequestedProcesses(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)
	h.stagePayload(t)

	res := h.run(t, Options{CurrentUser: "sam", RestartShell: true, RestartApp: true})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	want := []string{h.cfg.ServicePath(), h.cfg.AppPath(), h.cfg.ShellPath()}
	if len(h.launcher.started) != len(want) {
		t.Fatalf("started = %v, want %v", h.launcher.started, want)
	}
	for i := range want {
		if h.launcher.started[i] != want[i] {
			t.Fatalf("started[%d] = %s, want %s", i, h.launcher.started[i], want[i])
		}
	}
}

func TestRunMissingPayloadRelaunchesOld(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)

	res := h.run(t, Options{CurrentUser: "sam"})
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if code := res.ExitCode(); code != ExitNotPatched {
		t.Fatalf("exit code = %d, want %d", code, ExitNotPatched)
	}
	if got := readFile(t, h.cfg.ServicePath()); got != "old service" {
		t.Fatalf("installation changed: %q", got)
	}
	if len(h.launcher.started) != 1 {
		t.Fatalf("old service should be relaunched, started = %v", h.launcher.started)
	}
	last := h.messenger.commands[len(h.messenger.commands)-1]
	if last != ipc.CommandUpdateFailed {
		t.Fatalf("last command = %q, want %q", last, ipc.CommandUpdateFailed)
	}
}

func TestRunMissingPayloadIsJournaled(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)

	h.run(t, Options{CurrentUser: "sam"})

	rec, err := staging.ReadJournal(h.cfg.JournalPath())
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if rec.State != staging.StateQuiesced {
		t.Fatalf("journal state = %s, want %s", rec.State, staging.StateQuiesced)
	}
	if !strings.Contains(rec.Error, "payload not found") {
		t.Fatalf("journal error = %q, want the abort reason", rec.Error)
	}
}

// failingRename fails every rename whose source is one of fail.
func failingRename(fail ...string) func(from, to string) error {
	return func(from, to string) error {
		for _, f := range fail {
			if from == f {
				return errors.New("disk error")
			}
		}
		return os.Rename(from, to)
	}
}

func (h *harness) runWithRename(t *testing.T, opts Options, rename func(from, to string) error) Result {
	t.Helper()
	u := New(h.cfg, Deps{Messenger: h.messenger, Processes: h.table, Launcher: h.launcher})
	u.engine = staging.New(h.cfg, u.journal, staging.WithRename(rename))
	return u.Run(context.Background(), opts)
}

func TestRunPatchFailureRollsBackAndRelaunchesOld(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)
	h.stagePayload(t)

	res := h.runWithRename(t, Options{CurrentUser: "sam", RestartApp: true}, failingRename(h.cfg.PayloadDir()))
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if code := res.ExitCode(); code != ExitNotPatched {
		t.Fatalf("exit code = %d, want %d", code, ExitNotPatched)
	}
	if got := readFile(t, h.cfg.ServicePath()); got != "old service" {
		t.Fatalf("service = %q, want previous binary restored", got)
	}
	if _, err := os.Stat(h.cfg.StagingDir()); !os.IsNotExist(err) {
		t.Fatal("staging area should be empty after rollback")
	}

	want := []string{h.cfg.ServicePath(), h.cfg.AppPath()}
	if len(h.launcher.started) != len(want) || h.launcher.started[0] != want[0] || h.launcher.started[1] != want[1] {
		t.Fatalf("started = %v, want %v", h.launcher.started, want)
	}
	last := h.messenger.commands[len(h.messenger.commands)-1]
	if last != ipc.CommandUpdateFailed {
		t.Fatalf("last command = %q, want %q", last, ipc.CommandUpdateFailed)
	}

	rec, err := staging.ReadJournal(h.cfg.JournalPath())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != staging.StateRolledBack || !strings.Contains(rec.Error, "disk error") {
		t.Fatalf("journal = %+v, want rolled back with patch error", rec)
	}
}

func TestRunRollbackFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)
	h.stagePayload(t)

	res := h.runWithRename(t, Options{CurrentUser: "sam", RestartApp: true, RestartShell: true},
		failingRename(h.cfg.PayloadDir(), h.cfg.StagingDir()))
	if !operr.IsSevere(res.Err) {
		t.Fatalf("expected severe error, got %v", res.Err)
	}
	if code := res.ExitCode(); code != ExitFatal {
		t.Fatalf("exit code = %d, want %d", code, ExitFatal)
	}
	if len(h.launcher.started) != 0 {
		t.Fatalf("nothing may be relaunched after a failed rollback: %v", h.launcher.started)
	}
	for _, c := range h.messenger.commands {
		if c == ipc.CommandUpdateFailed {
			t.Fatal("no notification is sent after a failed rollback")
		}
	}
	if got := readFile(t, filepath.Join(h.cfg.StagingDir(), h.cfg.ServiceExe)); got != "old service" {
		t.Fatalf("previous installation must stay in the staging area, got %q", got)
	}
}

func TestRunMissingServiceIsFatal(t *testing.T) {
	h := newHarness(t)
	writeFile(t, filepath.Join(h.cfg.AppDir(), "readme.txt"), "no service here")
	h.stagePayload(t)

	res := h.run(t, Options{CurrentUser: "sam"})
	if !operr.IsSevere(res.Err) {
		t.Fatalf("expected severe error, got %v", res.Err)
	}
	if code := res.ExitCode(); code != ExitFatal {
		t.Fatalf("exit code = %d, want %d", code, ExitFatal)
	}
	if len(h.launcher.started) != 0 {
		t.Fatalf("nothing may be relaunched after a fatal error: %v", h.launcher.started)
	}
}

func TestRunStubbornProcessIsFatal(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)
	h.stagePayload(t)
	h.table.running = map[string][]coordinator.ManagedProcess{
		h.cfg.AppExe: {{Name: h.cfg.AppExe, User: "sam", PID: 42}},
	}

	res := h.run(t, Options{CurrentUser: "sam"})
	if code := res.ExitCode(); code != ExitFatal {
		t.Fatalf("exit code = %d, want %d (err %v)", code, ExitFatal, res.Err)
	}
	if got := readFile(t, h.cfg.ServicePath()); got != "old service" {
		t.Fatalf("installation changed: %q", got)
	}
	if len(h.launcher.started) != 0 {
		t.Fatalf("nothing may be relaunched: %v", h.launcher.started)
	}
}

func TestRunRecoversInterruptedUpdate(t *testing.T) {
	h := newHarness(t)
	writeFile(t, filepath.Join(h.cfg.StagingDir(), h.cfg.ServiceExe), "old service")
	h.stagePayload(t)

	res := h.run(t, Options{CurrentUser: "sam"})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if got := readFile(t, h.cfg.ServicePath()); got != "new service" {
		t.Fatalf("service = %q, want new binary", got)
	}
}

func TestRunLocked(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)
	h.stagePayload(t)

	lock, err := instancelock.Acquire(h.cfg.LockPath())
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	res := h.run(t, Options{CurrentUser: "sam"})
	if code := res.ExitCode(); code != ExitLocked {
		t.Fatalf("exit code = %d, want %d", code, ExitLocked)
	}
	if len(h.messenger.commands) != 0 || len(h.launcher.started) != 0 {
		t.Fatal("a locked run must not touch the suite")
	}
}

func TestRunCancelledBeforeStaging(t *testing.T) {
	h := newHarness(t)
	h.installOld(t)
	h.stagePayload(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := New(h.cfg, Deps{Messenger: h.messenger, Processes: h.table, Launcher: h.launcher})
	res := u.Run(ctx, Options{CurrentUser: "sam"})
	if res.ExitCode() != ExitNotPatched {
		t.Fatalf("exit code = %d, want %d (err %v)", res.ExitCode(), ExitNotPatched, res.Err)
	}
	if got := readFile(t, h.cfg.ServicePath()); got != "old service" {
		t.Fatalf("installation changed: %q", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want int
	}{
		{"patched", Result{Patched: true}, ExitOK},
		{"non-severe", Result{Err: operr.New("payload missing", nil)}, ExitNotPatched},
		{"severe", Result{Err: operr.Severe("rollback failed", nil)}, ExitFatal},
		{"locked", Result{Locked: true, Err: operr.New("locked", nil)}, ExitLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.ExitCode(); got != tt.want {
				t.Fatalf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
