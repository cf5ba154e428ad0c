package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/autodarkmode/adm-updater/internal/config"
	"github.com/autodarkmode/adm-updater/internal/ipc"
	"github.com/autodarkmode/adm-updater/internal/logging"
	"github.com/autodarkmode/adm-updater/internal/operr"
)

var log = logging.L("coordinator")

// Messenger sends a command to the service and waits for its reply.
type Messenger interface {
	SendAndWait(ctx context.Context, command string, timeout time.Duration, channel string) (ipc.ApiResponse, error)
}

// Identity is one of the suite's executables.
type Identity struct {
	Name        string
	Description string
}

// Identities returns the suite in shutdown order: service, app, shell.
func Identities(cfg *config.Config) []Identity {
	return []Identity{
		{Name: cfg.ServiceExe, Description: "service"},
		{Name: cfg.AppExe, Description: "app"},
		{Name: cfg.ShellExe, Description: "shell"},
	}
}

// Coordinator brings the suite to a stop for the current user.
type Coordinator struct {
	messenger  Messenger
	table      ProcessTable
	identities []Identity

	exitTimeout  time.Duration
	aliveTimeout time.Duration
	aliveProbes  int
	killRetries  int
	killInterval time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Coordinator for the suite described by cfg.
func New(cfg *config.Config, messenger Messenger, table ProcessTable) *Coordinator {
	return &Coordinator{
		messenger:    messenger,
		table:        table,
		identities:   Identities(cfg),
		exitTimeout:  cfg.ExitTimeout(),
		aliveTimeout: cfg.AliveTimeout(),
		aliveProbes:  cfg.AliveProbes,
		killRetries:  cfg.KillRetries,
		killInterval: cfg.KillInterval(),
		sleep:        sleepContext,
	}
}

// Quiesce stops every suite process owned by currentUser. The service is
// first asked to exit over its channel, which is named after the user.
// Processes of other users are never touched.
//
// A responsive service that refuses to exit yields a non-severe error. Any
// identity still running after all kill attempts yields a severe error.
func (c *Coordinator) Quiesce(ctx context.Context, currentUser string) error {
	log.Info("stopping service gracefully")
	if err := c.requestExit(ctx, currentUser); err != nil {
		return err
	}

	for _, id := range c.identities {
		if err := c.stopWithRetries(ctx, id, currentUser); err != nil {
			return err
		}
	}

	log.Info("suite has exited")
	return nil
}

func (c *Coordinator) requestExit(ctx context.Context, channel string) error {
	_, err := c.messenger.SendAndWait(ctx, ipc.CommandExit, c.exitTimeout, channel)
	if err != nil {
		if ipc.IsTimeout(err) {
			log.Info("service not reachable, assuming it is stopped")
			return nil
		}
		log.Warn("could not cleanly stop service", "error", err)
		return operr.New("could not cleanly stop service", err)
	}

	log.Info("waiting for service to stop")
	for i := 0; i < c.aliveProbes; i++ {
		_, err := c.messenger.SendAndWait(ctx, ipc.CommandAlive, c.aliveTimeout, channel)
		if ipc.IsTimeout(err) {
			log.Debug("service stopped responding", "probe", i+1)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return operr.New("interrupted while waiting for service to stop", err)
		}
	}
	log.Info("service still answers liveness probes, falling back to kill")
	return nil
}

// stopWithRetries kills every current-user instance of id until none is left
// or killRetries attempts have been made.
func (c *Coordinator) stopWithRetries(ctx context.Context, id Identity, currentUser string) error {
	for attempt := 1; ; attempt++ {
		procs, err := c.ownedInstances(id, currentUser)
		if err != nil {
			return operr.New(fmt.Sprintf("could not list %s processes", id.Description), err)
		}
		if len(procs) == 0 {
			return nil
		}
		if attempt > c.killRetries {
			return operr.Severe(fmt.Sprintf("could not stop %s after %d attempts, skipping update", id.Description, c.killRetries), nil)
		}

		for _, p := range procs {
			log.Info("stopping process for current user", "process", id.Description, "pid", p.PID)
			if err := c.table.Kill(p.PID); err != nil {
				log.Warn("kill failed", "process", id.Description, "pid", p.PID, "error", err)
			}
		}
		log.Debug("waiting for process to stop", "process", id.Description, "attempt", attempt, "of", c.killRetries)
		if err := c.sleep(ctx, c.killInterval); err != nil {
			return operr.New(fmt.Sprintf("interrupted while stopping %s", id.Description), err)
		}
	}
}

func (c *Coordinator) ownedInstances(id Identity, currentUser string) ([]ManagedProcess, error) {
	procs, err := c.table.Find(id.Name)
	if err != nil {
		return nil, err
	}
	var owned []ManagedProcess
	for _, p := range procs {
		switch {
		case p.User == "":
			log.Info("process found running for unknown user, no action required", "process", id.Description, "pid", p.PID)
		case !SameUser(p.User, currentUser):
			log.Info("process found running for different user, no action required", "process", id.Description, "user", p.User)
		default:
			owned = append(owned, p)
		}
	}
	return owned, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
