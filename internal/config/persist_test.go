package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadFromViperDefaults(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FMRIPREP_VERSION", "")
	t.Setenv("FS_LICENSE", "")

	if err := InitViper(""); err != nil {
		t.Fatalf("InitViper failed: %v", err)
	}
	if err := LoadFromViper(); err != nil {
		t.Fatalf("LoadFromViper failed: %v", err)
	}

	if Global.Resources.MemMB != 20000 {
		t.Errorf("MemMB = %d; want 20000", Global.Resources.MemMB)
	}
	if Global.Resources.WalltimeHours != 24 {
		t.Errorf("WalltimeHours = %d; want 24", Global.Resources.WalltimeHours)
	}
	if Global.Resources.FirstJobDelay != time.Minute {
		t.Errorf("FirstJobDelay = %v; want 1m", Global.Resources.FirstJobDelay)
	}
	if !Global.SkipInflight {
		t.Errorf("SkipInflight should default to true")
	}
	if Global.Pipeline.Name != "fmriprep" || Global.Pipeline.LegacyMajor != 21 {
		t.Errorf("unexpected pipeline defaults: %+v", Global.Pipeline)
	}
}

func TestLegacyEnvironmentVariables(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FMRIPREP_VERSION", "20.2.7")
	t.Setenv("FS_LICENSE", "/opt/freesurfer/license.txt")
	t.Setenv("USER", "marzwi")
	t.Setenv("FMRIPREP_SUB_RESOURCES_MEM_MB", "32G")

	if err := InitViper(""); err != nil {
		t.Fatalf("InitViper failed: %v", err)
	}
	if err := LoadFromViper(); err != nil {
		t.Fatalf("LoadFromViper failed: %v", err)
	}

	if Global.Pipeline.Version != "20.2.7" {
		t.Errorf("Version = %q; want 20.2.7", Global.Pipeline.Version)
	}
	if Global.Pipeline.License != "/opt/freesurfer/license.txt" {
		t.Errorf("License = %q", Global.Pipeline.License)
	}
	if Global.User != "marzwi" {
		t.Errorf("User = %q; want marzwi", Global.User)
	}
	if Global.Resources.MemMB != 32768 {
		t.Errorf("MemMB = %d; want 32768", Global.Resources.MemMB)
	}
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FMRIPREP_VERSION", "20.2.7")
	t.Setenv("FMRIPREP_SUB_PIPELINE_VERSION", "23.2.1")

	if err := InitViper(""); err != nil {
		t.Fatalf("InitViper failed: %v", err)
	}
	if err := LoadFromViper(); err != nil {
		t.Fatalf("LoadFromViper failed: %v", err)
	}
	if Global.Pipeline.Version != "23.2.1" {
		t.Errorf("Version = %q; want 23.2.1", Global.Pipeline.Version)
	}
}

func TestInvalidMemoryIsConfigError(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := InitViper(""); err != nil {
		t.Fatalf("InitViper failed: %v", err)
	}
	viper.Set("resources.mem_mb", "plenty")
	err := LoadFromViper()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("LoadFromViper error = %v; want ErrInvalidConfig", err)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	resetViper(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := InitViper(""); err != nil {
		t.Fatalf("InitViper failed: %v", err)
	}
	viper.Set("pipeline.version", "23.2.1")
	viper.Set("force", true)

	path := filepath.Join(t.TempDir(), "fmriprep-sub", "config.yaml")
	if err := SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved config: %v", err)
	}
	if !strings.Contains(string(content), "23.2.1") {
		t.Errorf("saved config lacks pipeline version:\n%s", content)
	}
	if strings.Contains(string(content), "force") {
		t.Errorf("run-specific key 'force' should not be saved:\n%s", content)
	}

	resetViper(t)
	if err := InitViper(path); err != nil {
		t.Fatalf("InitViper(%s) failed: %v", path, err)
	}
	if got := viper.GetString("pipeline.version"); got != "23.2.1" {
		t.Errorf("reloaded pipeline.version = %q; want 23.2.1", got)
	}
}

func TestEnvVarFor(t *testing.T) {
	if got := EnvVarFor("resources.mem_mb"); got != "FMRIPREP_SUB_RESOURCES_MEM_MB" {
		t.Errorf("EnvVarFor = %q", got)
	}
}
