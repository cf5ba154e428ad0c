// Package updater runs one in-place update of the suite: stop it, swap the
// installation for the payload, and start it again.
package updater

import (
	"context"
	"errors"

	"github.com/autodarkmode/adm-updater/internal/config"
	"github.com/autodarkmode/adm-updater/internal/coordinator"
	"github.com/autodarkmode/adm-updater/internal/instancelock"
	"github.com/autodarkmode/adm-updater/internal/logging"
	"github.com/autodarkmode/adm-updater/internal/operr"
	"github.com/autodarkmode/adm-updater/internal/relaunch"
	"github.com/autodarkmode/adm-updater/internal/staging"
)

var log = logging.L("updater")

// OpError is a failed update step tagged with its severity.
type OpError = operr.Error

// Deps are the collaborators that touch the outside world.
type Deps struct {
	Messenger coordinator.Messenger
	Processes coordinator.ProcessTable
	Launcher  relaunch.Launcher
}

// Options carry the command line choices for one run.
type Options struct {
	CurrentUser  string
	RestartShell bool
	RestartApp   bool
}

// Updater wires the coordinator, staging engine and relaunch controller
// together for a single run.
type Updater struct {
	cfg         *config.Config
	journal     *staging.Journal
	coordinator *coordinator.Coordinator
	engine      *staging.Engine
	relauncher  *relaunch.Controller
}

// New creates an Updater for the installation described by cfg.
func New(cfg *config.Config, deps Deps) *Updater {
	journal := staging.NewJournal(cfg.JournalPath())
	return &Updater{
		cfg:         cfg,
		journal:     journal,
		coordinator: coordinator.New(cfg, deps.Messenger, deps.Processes),
		engine:      staging.New(cfg, journal),
		relauncher:  relaunch.New(cfg, deps.Launcher, deps.Messenger),
	}
}

// Run performs the update. It never panics on a failed step; the returned
// Result says what happened and which exit code to use.
func (u *Updater) Run(ctx context.Context, opts Options) Result {
	lock, err := instancelock.Acquire(u.cfg.LockPath())
	if err != nil {
		if errors.Is(err, instancelock.ErrLocked) {
			log.Error("update already in progress", "error", err)
			return Result{Locked: true, Err: operr.New("update already in progress", err)}
		}
		log.Error("could not take updater lock", "error", err)
		return Result{Err: operr.New("could not take updater lock", err)}
	}
	defer lock.Release()

	if err := u.journal.Begin(); err != nil {
		log.Warn("could not write update journal", "error", err)
	}

	if err := u.coordinator.Quiesce(ctx, opts.CurrentUser); err != nil {
		return u.abort(ctx, opts, err)
	}
	if err := u.engine.MarkQuiesced(); err != nil {
		return u.abort(ctx, opts, err)
	}
	if err := u.engine.Recover(ctx); err != nil {
		return u.abort(ctx, opts, err)
	}

	if err := ctx.Err(); err != nil {
		return u.abort(ctx, opts, operr.New("update cancelled", err))
	}
	if err := u.engine.MoveToTemp(ctx); err != nil {
		return u.abort(ctx, opts, err)
	}

	if err := u.engine.Patch(ctx); err != nil {
		rlog := logging.WithStep(log, "rollback")
		rlog.Error("patching failed, attempting rollback", "error", err)
		if rbErr := u.engine.Rollback(err); rbErr != nil {
			rlog.Error("rollback failed, this is non-recoverable, please reinstall", "error", rbErr)
			return Result{Err: rbErr}
		}
		rlog.Info("rollback successful, no update has been performed, restarting previous version")
		u.relaunch(ctx, opts, false)
		return Result{Err: err}
	}

	logging.WithStep(log, "cleanup").Info("removing temporary update files")
	u.engine.Cleanup()
	log.Info("patch_complete")

	u.relaunch(ctx, opts, true)
	return Result{Patched: true}
}

// abort handles a failure before the installation was touched. Severe
// failures end the run; everything else restarts the previous version.
func (u *Updater) abort(ctx context.Context, opts Options, err error) Result {
	u.engine.Fail(err)
	if operr.IsSevere(err) {
		log.Error("update failed, installation needs attention", "error", err)
		return Result{Err: err}
	}
	log.Error("update process failed, restarting previous version", "error", err)
	u.relaunch(ctx, opts, false)
	return Result{Err: err}
}

func (u *Updater) relaunch(ctx context.Context, opts Options, patched bool) {
	err := u.relauncher.Relaunch(ctx, relaunch.Options{
		RestartShell:   opts.RestartShell,
		RestartApp:     opts.RestartApp,
		NotifyChannel:  opts.CurrentUser,
		PatchSucceeded: patched,
	})
	if err != nil {
		log.Error("relaunch failed", "error", err)
	}
}
