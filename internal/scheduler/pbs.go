package scheduler

import (
	"fmt"
	"regexp"
	"strings"
)

// TorqueBackend renders qsub/qselect/qstat commands for Torque and PBS.
type TorqueBackend struct {
	qsubBin    string
	qselectBin string
	qstatBin   string
	jobIDRe    *regexp.Regexp
	jobNameRe  *regexp.Regexp
}

// NewTorqueBackend creates a Torque backend using the binaries from PATH.
func NewTorqueBackend() *TorqueBackend {
	return &TorqueBackend{
		qsubBin:    "qsub",
		qselectBin: "qselect",
		qstatBin:   "qstat",
		jobIDRe:    regexp.MustCompile(`^\s*(\d+(?:\[\d*\])?(?:\.\S+)?)\s*$`),
		jobNameRe:  regexp.MustCompile(`^\s*Job_Name\s*=\s*(\S+)`),
	}
}

// Type implements Backend.
func (t *TorqueBackend) Type() SchedulerType { return SchedulerTorque }

// SubmitCommand renders
//
//	qsub -l nodes=1:ppn=<n>,walltime=<h>:00:00,mem=<m>mb[,file=<g>gb] -N <name> [extra]
//
// with the job script on stdin.
func (t *TorqueBackend) SubmitCommand(job *JobSpec) (*Command, error) {
	script, err := renderScript(job, "$PBS_JOBID")
	if err != nil {
		return nil, err
	}
	extra, err := extraArgs(job)
	if err != nil {
		return nil, err
	}

	resources := fmt.Sprintf("nodes=1:ppn=%d,walltime=%s,mem=%dmb", job.Threads, walltime(job.WalltimeHours), job.MemMB)
	if job.ScratchGB > 0 {
		resources += fmt.Sprintf(",file=%dgb", job.ScratchGB)
	}
	args := []string{"-l", resources, "-N", job.Name}
	args = append(args, extra...)

	return &Command{Name: t.qsubBin, Args: args, Stdin: script}, nil
}

// InflightCommand lists the full status of all queued, running and held
// jobs. qstat is skipped when qselect finds nothing, since a bare qstat -f
// would list every job.
func (t *TorqueBackend) InflightCommand(user string) *Command {
	sel := t.qselectBin + " -s RQH"
	if user != "" {
		sel += " -u " + displayQuote(user)
	}
	script := fmt.Sprintf(`ids=$(%s); [ -z "$ids" ] || %s -f $ids`, sel, t.qstatBin)
	return &Command{Name: "sh", Args: []string{"-c", script}}
}

// JobNames extracts the Job_Name attributes from qstat -f output.
func (t *TorqueBackend) JobNames(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		if m := t.jobNameRe.FindStringSubmatch(line); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}

// IsInflight implements Backend.
func (t *TorqueBackend) IsInflight(output, jobName string) bool {
	return containsName(t.JobNames(output), jobName)
}

// ParseJobID returns the id printed by qsub, e.g. "12345.dccn-l029".
func (t *TorqueBackend) ParseJobID(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		if m := t.jobIDRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// ScratchRoot returns $TMPDIR, which Torque points at the job's node-local
// directory.
func (t *TorqueBackend) ScratchRoot(string) string {
	return "$TMPDIR"
}
