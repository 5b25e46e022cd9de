// Package plan derives the resources, working directory and container
// command of one subject's batch job.
package plan

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/marcelzwiers/fmriprep-sub/internal/apptainer"
	"github.com/marcelzwiers/fmriprep-sub/internal/bids"
	"github.com/marcelzwiers/fmriprep-sub/internal/config"
	"github.com/marcelzwiers/fmriprep-sub/internal/scheduler"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

const (
	// MemPerThreadMB is the memory budget of one derived thread.
	MemPerThreadMB = 10000
	// MaxThreads caps derived threads; the pipeline scales poorly beyond it.
	MaxThreads = 8
)

var (
	// ErrLegacyOutputDir indicates an output directory that legacy pipeline
	// versions cannot write to.
	ErrLegacyOutputDir = errors.New("legacy pipeline versions require the output directory to be named after the pipeline")

	// ErrInvalidVersion indicates a pipeline version that is not MAJOR[.MINOR[.PATCH]]
	ErrInvalidVersion = errors.New("invalid pipeline version")
)

// DeriveThreads returns round(memMB/10000) clamped to [1, MaxThreads].
// Halves round to even, so 25000 MB gives 2 threads and 35000 MB gives 4.
func DeriveThreads(memMB int64) int {
	n := int(math.RoundToEven(float64(memMB) / MemPerThreadMB))
	if n < 1 {
		return 1
	}
	if n > MaxThreads {
		return MaxThreads
	}
	return n
}

// Layout is the output convention of the configured pipeline version.
type Layout struct {
	Legacy bool
	// PipelineOutputDir is the output argument handed to the pipeline.
	PipelineOutputDir string
}

// ResolveLayout selects the output convention from the major version.
// Versions below legacyMajor append the pipeline name to their output
// argument themselves, so outputDir must end in that name and the pipeline
// receives its parent.
func ResolveLayout(version, outputDir, pipeline string, legacyMajor int) (Layout, error) {
	major, err := majorVersion(version)
	if err != nil {
		return Layout{}, err
	}
	outputDir = filepath.Clean(outputDir)
	if major >= legacyMajor {
		return Layout{PipelineOutputDir: outputDir}, nil
	}
	if filepath.Base(outputDir) != pipeline {
		return Layout{}, fmt.Errorf("%w: %s is not named %q (version %s < %d)", ErrLegacyOutputDir, outputDir, pipeline, version, legacyMajor)
	}
	return Layout{Legacy: true, PipelineOutputDir: filepath.Dir(outputDir)}, nil
}

func majorVersion(version string) (int, error) {
	v := strings.TrimSpace(version)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	major, err := strconv.Atoi(strings.TrimPrefix(semver.Major(v), "v"))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	return major, nil
}

// Planner turns subjects into job specifications.
type Planner struct {
	cfg     *config.Config
	backend scheduler.Backend

	Layout        Layout
	OutputDir     string
	InvocationDir string
	// Token returns the uniqueness suffix of ephemeral working directories.
	Token func() string
}

// New validates the output layout and returns a Planner for cfg.
func New(cfg *config.Config, backend scheduler.Backend) (*Planner, error) {
	outputDir := cfg.ResolvedOutputDir()
	layout, err := ResolveLayout(cfg.Pipeline.Version, outputDir, cfg.Pipeline.Name, cfg.Pipeline.LegacyMajor)
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine the current directory: %w", err)
	}
	return &Planner{
		cfg:           cfg,
		backend:       backend,
		Layout:        layout,
		OutputDir:     outputDir,
		InvocationDir: cwd,
		Token:         newToken,
	}, nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Threads returns the configured thread count or derives it from memory.
func (p *Planner) Threads() int {
	if p.cfg.Resources.Threads > 0 {
		return p.cfg.Resources.Threads
	}
	return DeriveThreads(p.cfg.Resources.MemMB)
}

// PersistentWorkDir returns <work_root>/<subject_id>, or "" when no work
// root is configured.
func (p *Planner) PersistentWorkDir(subject bids.Subject) string {
	if p.cfg.WorkRoot == "" {
		return ""
	}
	return filepath.Join(p.cfg.WorkRoot, subject.ID)
}

// WorkDir returns the subject's working directory and whether it lives on
// node-local scratch for the duration of the job only.
func (p *Planner) WorkDir(subject bids.Subject) (string, bool) {
	if dir := p.PersistentWorkDir(subject); dir != "" {
		return dir, false
	}
	name := fmt.Sprintf("%s_%s_%s", p.cfg.Pipeline.Name, subject.ID, p.Token())
	return path.Join(p.backend.ScratchRoot(p.cfg.User), name), true
}

// Plan builds the job for subject. first marks the first submission of the
// batch, which is delayed.
func (p *Planner) Plan(subject bids.Subject, first bool) *scheduler.JobSpec {
	cfg := p.cfg
	threads := p.Threads()
	workDir, ephemeral := p.WorkDir(subject)

	job := &scheduler.JobSpec{
		Name:          scheduler.JobName(cfg.Pipeline.Name, subject.ID),
		SubjectID:     subject.ID,
		Threads:       threads,
		MemMB:         cfg.Resources.MemMB,
		WalltimeHours: cfg.Resources.WalltimeHours,
		WorkDir:       workDir,
		Ephemeral:     ephemeral,
		InvocationDir: p.InvocationDir,
		Env:           []string{"APPTAINERENV_FS_LICENSE=" + cfg.Pipeline.License},
		PipelineArgs:  cfg.PipelineArgs,
		SchedulerArgs: cfg.SchedulerArgs,
	}
	if ephemeral {
		job.ScratchGB = cfg.Resources.ScratchGB
	}
	if first && cfg.Resources.FirstJobDelay > 0 {
		job.Delay = cfg.Resources.FirstJobDelay
	}

	args := []string{
		cfg.BidsDir,
		p.Layout.PipelineOutputDir,
		"participant",
		"-w", workDir,
		"--participant-label", subject.Label(),
		"--fs-license-file", cfg.Pipeline.License,
		"--nthreads", strconv.Itoa(threads),
		"--omp-nthreads", strconv.Itoa(threads),
		"--mem_mb", strconv.FormatInt(cfg.Resources.MemMB, 10),
	}
	job.Command = apptainer.RunArgs(cfg.ImagePath(), args, &apptainer.RunOptions{
		Bin:      cfg.ApptainerBin,
		CleanEnv: true,
		Bind:     []string{cfg.BidsDir, p.Layout.PipelineOutputDir, workDir, cfg.Pipeline.License},
		Env:      []string{"TMPDIR=" + workDir},
	})

	utils.PrintDebug("Planned %s: %d threads, %d MB, %dh, workdir %s (ephemeral=%v)",
		utils.StyleName(job.Name), threads, job.MemMB, job.WalltimeHours, utils.StylePath(workDir), ephemeral)
	return job
}
