package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.RootDir = t.TempDir()
	return cfg
}

func TestDefaultIsValid(t *testing.T) {
	fatals, warnings := validConfig(t).Validate()
	if len(fatals) != 0 || len(warnings) != 0 {
		t.Fatalf("default config should validate cleanly: fatals=%v warnings=%v", fatals, warnings)
	}
}

func TestValidateRelativeRootIsFatal(t *testing.T) {
	cfg := validConfig(t)
	cfg.RootDir = "relative/root"
	fatals, _ := cfg.Validate()
	if len(fatals) == 0 {
		t.Fatal("relative root_dir should be fatal")
	}
}

func TestValidatePathSeparatorInNameIsFatal(t *testing.T) {
	cfg := validConfig(t)
	cfg.AppDirName = "../elsewhere"
	fatals, _ := cfg.Validate()
	found := false
	for _, err := range fatals {
		if strings.Contains(err.Error(), "app_dir_name") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected app_dir_name error, got %v", fatals)
	}
}

func TestValidateClampsRetryBounds(t *testing.T) {
	cfg := validConfig(t)
	cfg.RenameRetries = 0
	cfg.KillRetries = 500
	fatals, warnings := cfg.Validate()
	if len(fatals) != 0 {
		t.Fatalf("clamping should not be fatal: %v", fatals)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
	if cfg.RenameRetries != 1 {
		t.Fatalf("RenameRetries = %d, want 1", cfg.RenameRetries)
	}
	if cfg.KillRetries != 20 {
		t.Fatalf("KillRetries = %d, want 20", cfg.KillRetries)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := validConfig(t)
	root := cfg.RootDir

	if got, want := cfg.AppDir(), filepath.Join(root, "adm-app"); got != want {
		t.Fatalf("AppDir = %q, want %q", got, want)
	}
	if got, want := cfg.PayloadDir(), filepath.Join(root, "UpdateData", "unpacked", "adm-app"); got != want {
		t.Fatalf("PayloadDir = %q, want %q", got, want)
	}
	if got, want := cfg.StagingDir(), filepath.Join(root, "UpdateData", "tmp"); got != want {
		t.Fatalf("StagingDir = %q, want %q", got, want)
	}
	if got, want := cfg.ServicePath(), filepath.Join(root, "adm-app", cfg.ServiceExe); got != want {
		t.Fatalf("ServicePath = %q, want %q", got, want)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "adm-updater.yaml")
	content := "root_dir: " + dir + "\nkill_retries: 7\nlog_format: json\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADM_UPDATER_RENAME_RETRIES", "5")

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RootDir != dir {
		t.Fatalf("RootDir = %q, want %q", cfg.RootDir, dir)
	}
	if cfg.KillRetries != 7 {
		t.Fatalf("KillRetries = %d, want 7", cfg.KillRetries)
	}
	if cfg.RenameRetries != 5 {
		t.Fatalf("RenameRetries = %d, want 5 from env", cfg.RenameRetries)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.AliveProbes != 5 {
		t.Fatalf("AliveProbes default lost: %d", cfg.AliveProbes)
	}
}
