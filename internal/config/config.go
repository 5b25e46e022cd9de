package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

const VERSION = "0.4.0"

// ErrInvalidConfig is returned by Validate when required settings are missing
// or inconsistent.
var ErrInvalidConfig = errors.New("invalid configuration")

// PipelineConfig describes the containerised preprocessing pipeline.
type PipelineConfig struct {
	Name        string // pipeline name, also the job-name prefix and legacy output folder name
	Version     string // e.g. "23.2.1"
	Root        string // installation root holding the container images
	Image       string // container image; derived from Root/Name/Version when empty
	License     string // FreeSurfer license file
	LegacyMajor int    // versions with a lower major use the legacy output layout
}

// ResourceConfig holds the per-job resource requests.
type ResourceConfig struct {
	MemMB         int64
	Threads       int // 0 = derive from MemMB
	WalltimeHours int
	ScratchGB     int
	// FirstJobDelay is slept by the first job of a batch before starting the pipeline.
	FirstJobDelay time.Duration
}

// Config holds global application settings
type Config struct {
	Debug  bool
	Quiet  bool
	DryRun bool

	Force        bool
	SkipInflight bool

	BidsDir   string
	OutputDir string
	WorkRoot  string
	Subjects  []string

	Manager       string // "torque", "slurm" or "" (auto-detect)
	PipelineArgs  string
	SchedulerArgs string
	User          string
	ApptainerBin  string

	Pipeline  PipelineConfig
	Resources ResourceConfig
}

// Global holds the singleton configuration instance
var Global Config

// LoadDefaults resets Global to the built-in defaults.
func LoadDefaults() {
	Global = Default()
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		SkipInflight: true,
		ApptainerBin: "apptainer",
		Pipeline: PipelineConfig{
			Name:        "fmriprep",
			Root:        "/opt/fmriprep",
			LegacyMajor: 21,
		},
		Resources: ResourceConfig{
			MemMB:         20000,
			WalltimeHours: 24,
			ScratchGB:     50,
			FirstJobDelay: 60 * time.Second,
		},
	}
}

// ImagePath returns the container image to run. An explicit image wins,
// otherwise the image is looked up as <root>/<name>-<version>.sif.
func (c *Config) ImagePath() string {
	if c.Pipeline.Image != "" {
		return c.Pipeline.Image
	}
	if c.Pipeline.Root == "" || c.Pipeline.Version == "" {
		return ""
	}
	return filepath.Join(c.Pipeline.Root, fmt.Sprintf("%s-%s.sif", c.Pipeline.Name, c.Pipeline.Version))
}

// ResolvedOutputDir returns the output directory, defaulting to
// <bids>/derivatives/<pipeline>.
func (c *Config) ResolvedOutputDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	if c.BidsDir == "" {
		return ""
	}
	return filepath.Join(c.BidsDir, "derivatives", c.Pipeline.Name)
}

// Validate checks that every setting needed to compose a job is present.
// All problems are reported at once.
func (c *Config) Validate() error {
	var merr *multierror.Error
	missing := func(key, hint string) {
		merr = multierror.Append(merr, fmt.Errorf("%s is not set (%s)", key, hint))
	}

	if c.BidsDir == "" {
		missing("bids directory", "pass it as the first argument")
	}
	if c.Pipeline.Name == "" {
		missing("pipeline.name", "config key pipeline.name")
	}
	if c.Pipeline.Version == "" {
		missing("pipeline.version", "export FMRIPREP_VERSION or set pipeline.version")
	}
	if c.ImagePath() == "" {
		missing("pipeline.image", "set pipeline.image or pipeline.root")
	}
	if c.Pipeline.License == "" {
		missing("pipeline.license", "export FS_LICENSE or set pipeline.license")
	}
	if c.User == "" {
		missing("user", "export USER or set user")
	}
	if c.ApptainerBin == "" {
		missing("apptainer_bin", "set apptainer_bin")
	}

	if c.Resources.MemMB <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("resources.mem_mb must be positive, got %d", c.Resources.MemMB))
	}
	if c.Resources.Threads < 0 {
		merr = multierror.Append(merr, fmt.Errorf("resources.nthreads must not be negative, got %d", c.Resources.Threads))
	}
	if c.Resources.WalltimeHours <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("resources.walltime_hours must be positive, got %d", c.Resources.WalltimeHours))
	}
	if c.Resources.ScratchGB < 0 {
		merr = multierror.Append(merr, fmt.Errorf("resources.scratch_gb must not be negative, got %d", c.Resources.ScratchGB))
	}
	if c.Resources.FirstJobDelay < 0 {
		merr = multierror.Append(merr, fmt.Errorf("resources.first_job_delay must not be negative, got %s", c.Resources.FirstJobDelay))
	}

	if merr == nil {
		return nil
	}
	merr.ErrorFormat = func(errs []error) string {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = "\t* " + e.Error()
		}
		return fmt.Sprintf("%d problem(s):\n%s", len(errs), strings.Join(lines, "\n"))
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, merr)
}
