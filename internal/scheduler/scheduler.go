// Package scheduler composes, submits and queries batch jobs for the
// supported HPC schedulers (Torque/PBS and Slurm).
package scheduler

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// SchedulerType represents the type of job scheduler
type SchedulerType string

const (
	SchedulerUnknown SchedulerType = ""
	SchedulerTorque  SchedulerType = "torque"
	SchedulerSLURM   SchedulerType = "slurm"
)

// JobSpec describes one single-subject batch job. It is built fresh for every
// submission attempt and never persisted.
type JobSpec struct {
	Name      string // <pipeline>_<subject_id>
	SubjectID string // sub-<label>

	Threads       int
	MemMB         int64
	WalltimeHours int
	ScratchGB     int // local scratch request; 0 requests none

	WorkDir   string // may reference $TMPDIR, expanded inside the job
	Ephemeral bool   // WorkDir is removed at the end of the job

	// Delay is slept before the pipeline starts (first job of a batch only).
	Delay time.Duration

	InvocationDir string   // the job changes to this directory first
	Env           []string // KEY=VALUE exported by the job script
	Command       []string // containerised pipeline invocation
	PipelineArgs  string   // appended verbatim to Command
	SchedulerArgs string   // extra submit options, split shell-style
}

// Backend renders the scheduler-specific commands. Implementations do not
// execute anything; a Runner does.
type Backend interface {
	// Type returns the scheduler family.
	Type() SchedulerType

	// SubmitCommand renders the submission of job. The job script travels on
	// stdin.
	SubmitCommand(job *JobSpec) (*Command, error)

	// InflightCommand renders the query that lists queued, held and running
	// jobs, restricted to user when it is not empty.
	InflightCommand(user string) *Command

	// JobNames extracts the job names from the output of InflightCommand.
	JobNames(output string) []string

	// IsInflight reports whether jobName appears in the output of
	// InflightCommand.
	IsInflight(output, jobName string) bool

	// ParseJobID extracts the job id from the submit command's stdout.
	ParseJobID(stdout string) string

	// ScratchRoot returns the node-local directory under which ephemeral
	// working directories are created.
	ScratchRoot(user string) string
}

// Submit renders and runs the submission of job. A scheduler that exits
// non-zero yields a *SubmissionError carrying the captured result.
func Submit(ctx context.Context, b Backend, r Runner, job *JobSpec) (*Result, error) {
	cmd, err := b.SubmitCommand(job)
	if err != nil {
		return nil, err
	}
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return res, NewSubmissionError(string(b.Type()), job.Name, res, err)
	}
	if !res.Success() {
		return res, NewSubmissionError(string(b.Type()), job.Name, res, ErrJobSubmissionFailed)
	}
	return res, nil
}

// Inflight runs the in-flight query and returns the listed job names.
func Inflight(ctx context.Context, b Backend, r Runner, user string) ([]string, string, error) {
	res, err := r.Run(ctx, b.InflightCommand(user))
	if err != nil {
		return nil, "", NewQueryError(string(b.Type()), err)
	}
	if !res.Success() {
		return nil, "", NewQueryError(string(b.Type()), res.asError())
	}
	return b.JobNames(res.Stdout), res.Stdout, nil
}

// IsJobInflight asks the scheduler whether jobName is queued, held or
// running. One query is issued per call.
func IsJobInflight(ctx context.Context, b Backend, r Runner, jobName, user string) (bool, error) {
	_, out, err := Inflight(ctx, b, r, user)
	if err != nil {
		return false, err
	}
	return b.IsInflight(out, jobName), nil
}

// JobName returns the job name convention <pipeline>_<subject_id>.
func JobName(pipeline, subjectID string) string {
	return pipeline + "_" + subjectID
}

// containsName reports whether name is one of names.
func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// DetectType returns the type of scheduler available on the system.
func DetectType() SchedulerType {
	if _, err := exec.LookPath("sbatch"); err == nil {
		return SchedulerSLURM
	}
	if _, err := exec.LookPath("qsub"); err == nil {
		return SchedulerTorque
	}
	return SchedulerUnknown
}

// IsInsideJob checks if we're currently running inside a scheduler job.
func IsInsideJob() bool {
	for _, key := range []string{"SLURM_JOB_ID", "PBS_JOBID"} {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
