package relaunch

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/autodarkmode/adm-updater/internal/config"
	"github.com/autodarkmode/adm-updater/internal/ipc"
	"github.com/autodarkmode/adm-updater/internal/logging"
	"github.com/autodarkmode/adm-updater/internal/operr"
)

var log = logging.L("relaunch")

// Launcher starts suite executables detached from the updater.
type Launcher interface {
	Start(path, dir string) error
	StartShell(path, dir string) error
}

// Notifier delivers a command to the service.
type Notifier interface {
	SendAndWait(ctx context.Context, command string, timeout time.Duration, channel string) (ipc.ApiResponse, error)
}

// Options select what is restarted and whether the update outcome is reported.
type Options struct {
	RestartShell   bool
	RestartApp     bool
	NotifyChannel  string
	PatchSucceeded bool
}

// Controller restarts the suite after an update attempt.
type Controller struct {
	dir           string
	servicePath   string
	appPath       string
	shellPath     string
	notifyTimeout time.Duration

	launcher Launcher
	notifier Notifier
}

func New(cfg *config.Config, launcher Launcher, notifier Notifier) *Controller {
	return &Controller{
		dir:           cfg.AppDir(),
		servicePath:   cfg.ServicePath(),
		appPath:       cfg.AppPath(),
		shellPath:     cfg.ShellPath(),
		notifyTimeout: cfg.NotifyTimeout(),
		launcher:      launcher,
		notifier:      notifier,
	}
}

// Relaunch starts the service, then the app and shell if requested. The
// service gets a single attempt and its failure ends the relaunch. App and
// shell failures are collected. After a failed patch the service is told
// so it can inform the user; that notification is best effort.
func (c *Controller) Relaunch(ctx context.Context, opts Options) error {
	log.Info("starting service", "path", c.servicePath)
	if err := c.launcher.Start(c.servicePath, c.dir); err != nil {
		return operr.New(fmt.Sprintf("could not relaunch service at path %s", c.servicePath), err)
	}

	var result *multierror.Error
	if opts.RestartApp {
		log.Info("relaunching app", "path", c.appPath)
		if err := c.launcher.Start(c.appPath, c.dir); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not relaunch app at path %s: %w", c.appPath, err))
		}
	}
	if opts.RestartShell {
		log.Info("relaunching shell", "path", c.shellPath)
		if err := c.launcher.StartShell(c.shellPath, c.dir); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not relaunch shell at path %s: %w", c.shellPath, err))
		}
	}

	if !opts.PatchSucceeded {
		_, err := c.notifier.SendAndWait(ctx, ipc.CommandUpdateFailed, c.notifyTimeout, opts.NotifyChannel)
		if err != nil {
			log.Warn("could not send update failed message", "error", err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return operr.New("relaunch incomplete", err)
	}
	return nil
}
