package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
	"github.com/spf13/viper"
)

// ConfigFilename is the name of the config file
const ConfigFilename = "config"

// ConfigType is the type of config file (yaml, json, toml)
const ConfigType = "yaml"

// AppDirName is the directory name used below the user and system config dirs.
const AppDirName = "fmriprep-sub"

// EnvPrefix is prepended to every config key when read from the environment,
// e.g. FMRIPREP_SUB_RESOURCES_MEM_MB.
const EnvPrefix = "FMRIPREP_SUB"

// legacyEnv lists the environment variables the cluster modules export.
// They are consulted after the prefixed variable of the same key.
var legacyEnv = map[string]string{
	"pipeline.version": "FMRIPREP_VERSION",
	"pipeline.root":    "FMRIPREP_ROOT",
	"pipeline.license": "FS_LICENSE",
	"user":             "USER",
}

// InitViper initializes Viper with proper search paths and defaults
// Priority (highest to lowest):
// 1. Command-line flags (bound by the cobra commands)
// 2. Environment variables (FMRIPREP_SUB_*, then FMRIPREP_VERSION, FS_LICENSE, ...)
// 3. Explicit config file, or user config file (~/.config/fmriprep-sub/config.yaml)
// 4. System config file (/etc/fmriprep-sub/config.yaml)
// 5. Defaults
func InitViper(configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(ConfigFilename)
		viper.SetConfigType(ConfigType)

		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(userConfigDir, AppDirName))
		}
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, "."+AppDirName))
		}
		viper.AddConfigPath(filepath.Join("/etc", AppDirName))
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := viper.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if configFile == "" && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	utils.PrintDebug("Using config file: %s", utils.StylePath(viper.ConfigFileUsed()))
	return nil
}

// setDefaults sets default values for all config keys
func setDefaults() {
	d := Default()

	viper.SetDefault("pipeline.name", d.Pipeline.Name)
	viper.SetDefault("pipeline.root", d.Pipeline.Root)
	viper.SetDefault("pipeline.legacy_major", d.Pipeline.LegacyMajor)
	viper.SetDefault("apptainer_bin", d.ApptainerBin)
	viper.SetDefault("skip_inflight", d.SkipInflight)

	viper.SetDefault("resources.mem_mb", fmt.Sprintf("%d", d.Resources.MemMB))
	viper.SetDefault("resources.nthreads", d.Resources.Threads)
	viper.SetDefault("resources.walltime_hours", d.Resources.WalltimeHours)
	viper.SetDefault("resources.scratch_gb", d.Resources.ScratchGB)
	viper.SetDefault("resources.first_job_delay", d.Resources.FirstJobDelay.String())
}

// ConfigKeys lists the keys shown by "config show" and written by "config init".
var ConfigKeys = []string{
	"pipeline.name",
	"pipeline.version",
	"pipeline.root",
	"pipeline.image",
	"pipeline.license",
	"pipeline.legacy_major",
	"apptainer_bin",
	"scheduler.manager",
	"user",
	"skip_inflight",
	"resources.mem_mb",
	"resources.nthreads",
	"resources.walltime_hours",
	"resources.scratch_gb",
	"resources.first_job_delay",
}

// EnvVarFor returns the prefixed environment variable that sets key.
func EnvVarFor(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// GetUserConfigPath returns the path to the user config file
func GetUserConfigPath() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "."+AppDirName, ConfigFilename+"."+ConfigType), nil
	}

	return filepath.Join(userConfigDir, AppDirName, ConfigFilename+"."+ConfigType), nil
}

// SaveConfig writes the persistent keys of the current Viper config to path.
// Run-specific settings (paths, subjects, flags like --force) are not saved.
func SaveConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), utils.PermDir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := viper.New()
	for _, key := range ConfigKeys {
		if v := viper.Get(key); v != nil {
			out.Set(key, v)
		}
	}
	if err := out.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadFromViper loads config from Viper into Global struct
func LoadFromViper() error {
	LoadDefaults()
	return loadInto(&Global)
}

func loadInto(c *Config) error {
	c.Debug = viper.GetBool("debug")
	c.Quiet = viper.GetBool("quiet")
	c.DryRun = viper.GetBool("dry_run")
	c.Force = viper.GetBool("force")
	c.SkipInflight = viper.GetBool("skip_inflight")

	if v := viper.GetString("bids_dir"); v != "" {
		c.BidsDir = utils.AbsPath(v)
	}
	if v := viper.GetString("output_dir"); v != "" {
		c.OutputDir = utils.AbsPath(v)
	}
	if v := viper.GetString("work_root"); v != "" {
		c.WorkRoot = utils.AbsPath(v)
	}
	c.Subjects = viper.GetStringSlice("participant_label")

	c.Manager = strings.ToLower(strings.TrimSpace(viper.GetString("scheduler.manager")))
	c.PipelineArgs = viper.GetString("args")
	c.SchedulerArgs = viper.GetString("qargs")
	c.User = viper.GetString("user")
	if v := viper.GetString("apptainer_bin"); v != "" {
		c.ApptainerBin = v
	}

	if v := viper.GetString("pipeline.name"); v != "" {
		c.Pipeline.Name = v
	}
	c.Pipeline.Version = strings.TrimSpace(viper.GetString("pipeline.version"))
	c.Pipeline.Root = viper.GetString("pipeline.root")
	c.Pipeline.Image = viper.GetString("pipeline.image")
	c.Pipeline.License = viper.GetString("pipeline.license")
	if v := viper.GetInt("pipeline.legacy_major"); v > 0 {
		c.Pipeline.LegacyMajor = v
	}

	memMB, err := utils.ParseSizeToMB(viper.GetString("resources.mem_mb"))
	if err != nil {
		return fmt.Errorf("%w: resources.mem_mb: %v", ErrInvalidConfig, err)
	}
	c.Resources.MemMB = memMB
	c.Resources.Threads = viper.GetInt("resources.nthreads")
	c.Resources.WalltimeHours = viper.GetInt("resources.walltime_hours")
	c.Resources.ScratchGB = viper.GetInt("resources.scratch_gb")

	delay, err := utils.ParseDuration(viper.GetString("resources.first_job_delay"))
	if err != nil {
		return fmt.Errorf("%w: resources.first_job_delay: %v", ErrInvalidConfig, err)
	}
	c.Resources.FirstJobDelay = delay

	return nil
}
