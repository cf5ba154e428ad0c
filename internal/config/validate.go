package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config and returns all problems found. Out-of-range
// timeouts and retry bounds are clamped in place; a missing root or a name
// that escapes its parent directory is returned as an error the caller must
// treat as fatal.
func (c *Config) Validate() (fatals []error, warnings []error) {
	if c.RootDir == "" {
		fatals = append(fatals, fmt.Errorf("root_dir is empty"))
	} else if !filepath.IsAbs(c.RootDir) {
		fatals = append(fatals, fmt.Errorf("root_dir %q must be an absolute path", c.RootDir))
	}

	for key, name := range map[string]string{
		"app_dir_name":         c.AppDirName,
		"update_data_dir_name": c.UpdateDataDirName,
		"service_exe":          c.ServiceExe,
		"app_exe":              c.AppExe,
		"shell_exe":            c.ShellExe,
	} {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			fatals = append(fatals, fmt.Errorf("%s %q must be a plain file name", key, name))
		}
	}

	clamp := func(key string, v *int, lo, hi int) {
		if *v < lo {
			warnings = append(warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, lo))
			*v = lo
		} else if *v > hi {
			warnings = append(warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, hi))
			*v = hi
		}
	}
	clamp("exit_timeout_ms", &c.ExitTimeoutMs, 100, 60000)
	clamp("alive_timeout_ms", &c.AliveTimeoutMs, 100, 60000)
	clamp("alive_probes", &c.AliveProbes, 1, 60)
	clamp("notify_timeout_ms", &c.NotifyTimeoutMs, 100, 60000)
	clamp("kill_retries", &c.KillRetries, 1, 20)
	clamp("kill_interval_ms", &c.KillIntervalMs, 0, 30000)
	clamp("rename_retries", &c.RenameRetries, 1, 20)
	clamp("rename_backoff_ms", &c.RenameBackoffMs, 0, 30000)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		warnings = append(warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		warnings = append(warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range warnings {
		slog.Warn("config validation", "error", err)
	}
	return fatals, warnings
}
