package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config carries every path and tuning knob of an update run. It is built
// once at startup and handed to each component.
type Config struct {
	RootDir           string `mapstructure:"root_dir"`
	AppDirName        string `mapstructure:"app_dir_name"`
	UpdateDataDirName string `mapstructure:"update_data_dir_name"`
	ServiceExe        string `mapstructure:"service_exe"`
	AppExe            string `mapstructure:"app_exe"`
	ShellExe          string `mapstructure:"shell_exe"`
	SocketDir         string `mapstructure:"socket_dir"`

	ExitTimeoutMs   int `mapstructure:"exit_timeout_ms"`
	AliveTimeoutMs  int `mapstructure:"alive_timeout_ms"`
	AliveProbes     int `mapstructure:"alive_probes"`
	NotifyTimeoutMs int `mapstructure:"notify_timeout_ms"`
	KillRetries     int `mapstructure:"kill_retries"`
	KillIntervalMs  int `mapstructure:"kill_interval_ms"`
	RenameRetries   int `mapstructure:"rename_retries"`
	RenameBackoffMs int `mapstructure:"rename_backoff_ms"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

func Default() *Config {
	return &Config{
		AppDirName:        "adm-app",
		UpdateDataDirName: "UpdateData",
		ServiceExe:        exeName("AutoDarkModeSvc"),
		AppExe:            exeName("AutoDarkModeApp"),
		ShellExe:          exeName("AutoDarkModeShell"),
		ExitTimeoutMs:     3000,
		AliveTimeoutMs:    1000,
		AliveProbes:       5,
		NotifyTimeoutMs:   5000,
		KillRetries:       3,
		KillIntervalMs:    1000,
		RenameRetries:     3,
		RenameBackoffMs:   1000,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads configuration from cfgFile, or from adm-updater.yaml in the
// updater's own directory when cfgFile is empty. A missing file is not an
// error. Environment variables prefixed ADM_UPDATER override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("adm-updater")
		v.SetConfigType("yaml")
		if dir, err := executableDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ADM_UPDATER")
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.RootDir == "" {
		root, err := defaultRootDir()
		if err != nil {
			return nil, err
		}
		cfg.RootDir = root
	}
	if cfg.LogFile == "" {
		cfg.LogFile = defaultLogFile()
	}
	return cfg, nil
}

// AutomaticEnv only covers keys viper already knows about, so every key of
// Config is registered explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"root_dir", "app_dir_name", "update_data_dir_name",
		"service_exe", "app_exe", "shell_exe", "socket_dir",
		"exit_timeout_ms", "alive_timeout_ms", "alive_probes", "notify_timeout_ms",
		"kill_retries", "kill_interval_ms", "rename_retries", "rename_backoff_ms",
		"log_level", "log_format", "log_file",
	} {
		_ = v.BindEnv(key)
	}
}

// AppDir is the live installation directory.
func (c *Config) AppDir() string {
	return filepath.Join(c.RootDir, c.AppDirName)
}

// UpdateDataDir holds the unpacked payload and the staging area.
func (c *Config) UpdateDataDir() string {
	return filepath.Join(c.RootDir, c.UpdateDataDirName)
}

// PayloadDir is the unpacked new installation that replaces AppDir.
func (c *Config) PayloadDir() string {
	return filepath.Join(c.UpdateDataDir(), "unpacked", c.AppDirName)
}

// StagingDir holds the previous installation while the swap is in progress.
func (c *Config) StagingDir() string {
	return filepath.Join(c.UpdateDataDir(), "tmp")
}

func (c *Config) ServicePath() string { return filepath.Join(c.AppDir(), c.ServiceExe) }
func (c *Config) AppPath() string     { return filepath.Join(c.AppDir(), c.AppExe) }
func (c *Config) ShellPath() string   { return filepath.Join(c.AppDir(), c.ShellExe) }

// LockPath is the single-instance lock shared by all updater invocations.
func (c *Config) LockPath() string {
	return filepath.Join(c.RootDir, "adm-updater.lock")
}

// JournalPath records the last staging transition of an update run.
func (c *Config) JournalPath() string {
	return filepath.Join(c.RootDir, "adm-updater.state.yaml")
}

func (c *Config) ExitTimeout() time.Duration   { return ms(c.ExitTimeoutMs) }
func (c *Config) AliveTimeout() time.Duration  { return ms(c.AliveTimeoutMs) }
func (c *Config) NotifyTimeout() time.Duration { return ms(c.NotifyTimeoutMs) }
func (c *Config) KillInterval() time.Duration  { return ms(c.KillIntervalMs) }
func (c *Config) RenameBackoff() time.Duration { return ms(c.RenameBackoffMs) }

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// The updater ships in <root>/Updater, so the installation root is the
// parent of the executable's directory.
func defaultRootDir() (string, error) {
	dir, err := executableDir()
	if err != nil {
		return "", err
	}
	return filepath.Dir(dir), nil
}

func defaultLogFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "updater.log"
	}
	return filepath.Join(dir, "AutoDarkMode", "updater.log")
}
