package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autodarkmode/adm-updater/internal/config"
	"github.com/autodarkmode/adm-updater/internal/coordinator"
	"github.com/autodarkmode/adm-updater/internal/ipc"
	"github.com/autodarkmode/adm-updater/internal/logging"
	"github.com/autodarkmode/adm-updater/internal/relaunch"
	"github.com/autodarkmode/adm-updater/internal/staging"
	"github.com/autodarkmode/adm-updater/internal/updater"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
	notify    bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "adm-updater [--notify <restart_shell> <restart_app>]",
	Short: "Auto Dark Mode updater",
	Long: `adm-updater stops Auto Dark Mode, replaces the installation with the
unpacked update payload and starts it again.`,
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(runUpdate(args))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("adm-updater v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the last update run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is adm-updater.yaml next to the executable)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.Flags().BoolVar(&notify, "notify", false, "restart shell and app according to the two positional arguments")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runUpdate(args []string) int {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return updater.ExitNotPatched
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	closeLog := setupLogging(cfg)
	defer closeLog()
	if fatals, _ := cfg.Validate(); len(fatals) > 0 {
		for _, f := range fatals {
			log.Error("invalid config", "error", f)
		}
		return updater.ExitNotPatched
	}

	restartShell, restartApp := parseNotify(notify, args)
	log.Info("auto dark mode updater", "version", version)
	log.Info("installation root", "path", cfg.RootDir)
	log.Info("restart options", "app", restartApp, "shell", restartShell)

	username, err := currentUsername()
	if err != nil {
		log.Error("could not determine current user", "error", err)
		return updater.ExitNotPatched
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := updater.New(cfg, updater.Deps{
		Messenger: ipc.NewClient(cfg.SocketDir),
		Processes: coordinator.SystemProcessTable{},
		Launcher:  relaunch.ProcessLauncher{},
	})
	res := u.Run(ctx, updater.Options{
		CurrentUser:  username,
		RestartShell: restartShell,
		RestartApp:   restartApp,
	})
	code := res.ExitCode()
	if res.Err != nil {
		log.Info("update finished with error", "exitCode", code, "error", res.Err)
	}
	return code
}

// parseNotify reads the positional restart flags that follow --notify.
// Without --notify nothing but the service is restarted.
func parseNotify(enabled bool, args []string) (restartShell, restartApp bool) {
	if !enabled {
		return false, false
	}
	if len(args) >= 1 {
		restartShell = isTrue(args[0])
	}
	if len(args) >= 2 {
		restartApp = isTrue(args[1])
	}
	return restartShell, restartApp
}

func isTrue(s string) bool {
	return strings.EqualFold(s, "true") || s == "1"
}

// currentUsername returns the login name without any domain prefix. It is
// also the name of the service's IPC channel.
func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	name := u.Username
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}

// setupLogging sends logs to the rotating log file and, when attached to a
// terminal, to stdout as well.
func setupLogging(cfg *config.Config) func() {
	if cfg.LogFile == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
		return func() {}
	}
	fw, err := logging.OpenFile(cfg.LogFile, 0, 0)
	if err != nil {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
		log.Warn("could not open log file, logging to stdout only", "path", cfg.LogFile, "error", err)
		return func() {}
	}
	if hasConsole() {
		logging.Init(cfg.LogFormat, cfg.LogLevel, fw.Tee(os.Stdout))
	} else {
		logging.Init(cfg.LogFormat, cfg.LogLevel, fw)
	}
	return func() { fw.Close() }
}

// hasConsole reports whether stdout is connected to a terminal.
func hasConsole() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func checkStatus() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rec, err := staging.ReadJournal(cfg.JournalPath())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Status: No update has run")
			return nil
		}
		return err
	}

	fmt.Printf("Status: %s\n", rec.State)
	fmt.Printf("Installation: %s\n", cfg.AppDir())
	fmt.Printf("Started: %s (pid %d)\n", rec.Started.Format("2006-01-02 15:04:05"), rec.PID)
	fmt.Printf("Updated: %s\n", rec.Updated.Format("2006-01-02 15:04:05"))
	if rec.Error != "" {
		fmt.Printf("Error: %s\n", rec.Error)
	}
	return nil
}
