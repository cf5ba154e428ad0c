package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/autodarkmode/adm-updater/internal/config"
	"github.com/autodarkmode/adm-updater/internal/logging"
	"github.com/autodarkmode/adm-updater/internal/operr"
)

var log = logging.L("staging")

// State is a point in the update state machine.
type State string

const (
	StateIdle       State = "idle"
	StateQuiesced   State = "quiesced"
	StateStagedOld  State = "staged_old"
	StatePatched    State = "patched"
	StateCleaned    State = "cleaned"
	StateRolledBack State = "rolled_back"
)

// ErrInvalidTransition is returned when a step is attempted from the wrong state.
var ErrInvalidTransition = errors.New("invalid staging transition")

// Engine swaps the live installation for the update payload using directory
// renames only, so the live directory always holds either the complete old
// tree, the complete new tree, or nothing.
type Engine struct {
	appDir        string
	payloadDir    string
	stagingDir    string
	updateDataDir string
	serviceExe    string

	moveRetrier  Retrier
	patchRetrier Retrier
	journal      *Journal
	state        State

	rename    func(from, to string) error
	removeAll func(path string) error
}

// Option customises an Engine.
type Option func(*Engine)

// WithRename replaces the rename used for every directory move.
func WithRename(rename func(from, to string) error) Option {
	return func(e *Engine) { e.rename = rename }
}

// New creates an Engine for the layout in cfg. journal may be nil.
func New(cfg *config.Config, journal *Journal, opts ...Option) *Engine {
	e := &Engine{
		appDir:        cfg.AppDir(),
		payloadDir:    cfg.PayloadDir(),
		stagingDir:    cfg.StagingDir(),
		updateDataDir: cfg.UpdateDataDir(),
		serviceExe:    cfg.ServiceExe,
		moveRetrier: Retrier{
			Attempts:  cfg.RenameRetries,
			Backoff:   cfg.RenameBackoff(),
			Transient: IsSharingViolation,
		},
		patchRetrier: Retrier{
			Attempts: cfg.RenameRetries,
			Backoff:  cfg.RenameBackoff(),
			Transient: func(err error) bool {
				return IsSharingViolation(err) || IsAccessDenied(err)
			},
		},
		journal:   journal,
		state:     StateIdle,
		rename:    os.Rename,
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Fail records err against the current state so the journal shows why the
// run stopped.
func (e *Engine) Fail(err error) {
	e.record(e.state, err)
}

// MarkQuiesced records that no suite process is running any more.
func (e *Engine) MarkQuiesced() error {
	if e.state != StateIdle {
		return e.invalid("quiesce")
	}
	e.transition(StateQuiesced, nil)
	return nil
}

// MoveToTemp renames the live installation into the staging area.
func (e *Engine) MoveToTemp(ctx context.Context) error {
	if e.state != StateQuiesced {
		return e.invalid("move to temp")
	}
	if !exists(e.payloadDir) {
		return operr.New("update payload not found, aborting patch", nil)
	}
	if !exists(filepath.Join(e.appDir, e.serviceExe)) {
		return operr.Severe(fmt.Sprintf("service executable %s missing from %s", e.serviceExe, e.appDir), nil)
	}
	if exists(e.stagingDir) {
		return operr.New("staging area "+e.stagingDir+" already exists, aborting patch", nil)
	}

	log.Info("moving current installation to temp directory", "from", e.appDir, "to", e.stagingDir)
	err := e.moveRetrier.Do(ctx, func() error { return e.rename(e.appDir, e.stagingDir) })
	if err != nil {
		return operr.New("error moving current installation to temp directory, aborting patch", err)
	}
	e.transition(StateStagedOld, nil)
	return nil
}

// Patch renames the payload into the now vacant live location.
func (e *Engine) Patch(ctx context.Context) error {
	if e.state != StateStagedOld {
		return e.invalid("patch")
	}

	log.Info("patching installation", "from", e.payloadDir, "to", e.appDir)
	err := e.patchRetrier.Do(ctx, func() error { return e.rename(e.payloadDir, e.appDir) })
	if err != nil {
		return operr.New("error patching installation, aborting patch", err)
	}
	e.transition(StatePatched, nil)
	return nil
}

// Rollback restores the previous installation from the staging area. From
// Patched the new tree is first moved back to the payload location. cause is
// the failure that made the rollback necessary and is kept in the journal.
// Rollback ignores cancellation. Any failure is severe.
func (e *Engine) Rollback(cause error) error {
	if e.state != StateStagedOld && e.state != StatePatched {
		return e.invalid("rollback")
	}
	ctx := context.Background()

	if e.state == StatePatched {
		if err := os.MkdirAll(filepath.Dir(e.payloadDir), 0o755); err != nil {
			return e.rollbackFailed(err)
		}
		err := e.moveRetrier.Do(ctx, func() error { return e.rename(e.appDir, e.payloadDir) })
		if err != nil {
			return e.rollbackFailed(fmt.Errorf("move patched installation aside: %w", err))
		}
	} else if exists(e.appDir) {
		// Patch never completed, so anything here was not written by us.
		if empty, _ := isEmptyDir(e.appDir); !empty {
			return e.rollbackFailed(fmt.Errorf("%s is occupied by unknown files", e.appDir))
		}
		if err := os.Remove(e.appDir); err != nil {
			return e.rollbackFailed(err)
		}
	}

	log.Info("restoring previous installation", "from", e.stagingDir, "to", e.appDir)
	err := e.moveRetrier.Do(ctx, func() error { return e.rename(e.stagingDir, e.appDir) })
	if err != nil {
		return e.rollbackFailed(err)
	}
	e.transition(StateRolledBack, cause)
	return nil
}

func (e *Engine) rollbackFailed(err error) error {
	opErr := operr.Severe("rollback failed, installation is in an unknown state", err)
	log.Error("rollback failed", "error", err)
	e.record(e.state, opErr)
	return opErr
}

// Cleanup deletes the update data directory, including the staging area.
// Failures are logged and never returned.
func (e *Engine) Cleanup() {
	if e.state != StatePatched {
		log.Warn("cleanup skipped", "error", e.invalid("cleanup"))
		return
	}
	if !exists(filepath.Join(e.stagingDir, e.serviceExe)) {
		log.Warn("could not find valid tmp directory with previous service data, skipping update file removal check")
	}
	if err := e.removeAll(e.updateDataDir); err != nil {
		log.Warn("could not remove old update files, manual investigation required", "path", e.updateDataDir, "error", err)
	}
	e.transition(StateCleaned, nil)
}

// Recover repairs the layout left by an interrupted run before a new one
// starts. A staging area without a live installation is renamed back; a
// staging area next to a live installation is stale and removed. It is a
// no-op when no staging area exists. Failing to restore is severe.
func (e *Engine) Recover(ctx context.Context) error {
	if !exists(e.stagingDir) {
		return nil
	}

	if !exists(e.appDir) {
		log.Warn("found interrupted update, restoring previous installation", "staging", e.stagingDir)
		err := e.moveRetrier.Do(ctx, func() error { return e.rename(e.stagingDir, e.appDir) })
		if err != nil {
			return operr.Severe("could not restore installation from interrupted update", err)
		}
		e.record(StateRolledBack, nil)
		return nil
	}

	log.Warn("removing stale staging area", "path", e.stagingDir)
	if err := e.removeAll(e.stagingDir); err != nil {
		return operr.New("could not remove stale staging area", err)
	}
	return nil
}

func (e *Engine) transition(to State, err error) {
	log.Debug("state transition", "from", e.state, "to", to)
	e.state = to
	e.record(to, err)
}

func (e *Engine) record(state State, err error) {
	if e.journal == nil {
		return
	}
	if jerr := e.journal.Record(state, err); jerr != nil {
		log.Warn("could not write update journal", "error", jerr)
	}
}

func (e *Engine) invalid(step string) error {
	return operr.New(step, fmt.Errorf("%w: %s from state %s", ErrInvalidTransition, step, e.state))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isEmptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
