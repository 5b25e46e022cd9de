package scheduler

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// SlurmBackend renders sbatch/squeue commands.
type SlurmBackend struct {
	sbatchBin string
	squeueBin string
	jobIDRe   *regexp.Regexp
}

// NewSlurmBackend creates a Slurm backend using the binaries from PATH.
func NewSlurmBackend() *SlurmBackend {
	return &SlurmBackend{
		sbatchBin: "sbatch",
		squeueBin: "squeue",
		jobIDRe:   regexp.MustCompile(`Submitted batch job (\d+)`),
	}
}

// Type implements Backend.
func (s *SlurmBackend) Type() SchedulerType { return SchedulerSLURM }

// SubmitCommand renders
//
//	sbatch --job-name=<name> --mem=<m> --time=<h>:00:00 --ntasks=1 --cpus-per-task=<n> [--tmp=<g>G] [extra]
//
// with the job script on stdin.
func (s *SlurmBackend) SubmitCommand(job *JobSpec) (*Command, error) {
	script, err := renderScript(job, "$SLURM_JOB_ID")
	if err != nil {
		return nil, err
	}
	extra, err := extraArgs(job)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--job-name=" + job.Name,
		fmt.Sprintf("--mem=%d", job.MemMB),
		"--time=" + walltime(job.WalltimeHours),
		"--ntasks=1",
		fmt.Sprintf("--cpus-per-task=%d", job.Threads),
	}
	if job.ScratchGB > 0 {
		args = append(args, fmt.Sprintf("--tmp=%dG", job.ScratchGB))
	}
	args = append(args, extra...)

	return &Command{Name: s.sbatchBin, Args: args, Stdin: script}, nil
}

// InflightCommand lists one job name per line. squeue only shows pending,
// running and held jobs by default.
func (s *SlurmBackend) InflightCommand(user string) *Command {
	args := []string{"-h", "-o", "%j"}
	if user != "" {
		args = append(args, "-u", user)
	}
	return &Command{Name: s.squeueBin, Args: args}
}

// JobNames implements Backend.
func (s *SlurmBackend) JobNames(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// IsInflight implements Backend.
func (s *SlurmBackend) IsInflight(output, jobName string) bool {
	return containsName(s.JobNames(output), jobName)
}

// ParseJobID implements Backend.
func (s *SlurmBackend) ParseJobID(stdout string) string {
	if m := s.jobIDRe.FindStringSubmatch(stdout); m != nil {
		return m[1]
	}
	return ""
}

// ScratchRoot returns /tmp/<user>.
func (s *SlurmBackend) ScratchRoot(user string) string {
	if user == "" {
		user = "$USER"
	}
	return path.Join("/tmp", user)
}
