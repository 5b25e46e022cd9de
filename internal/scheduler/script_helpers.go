package scheduler

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

// jobScript is the body piped into the submit command. Paths are double
// quoted so that $TMPDIR style references expand inside the job.
var jobScript = template.Must(template.New("job").Funcs(template.FuncMap{
	"quote":  shellQuote,
	"export": exportLine,
}).Parse(`#!/bin/bash
# Print job information
_START_TIME=$SECONDS
_format_time() { local s=$1; printf '%02d:%02d:%02d' $((s/3600)) $((s%3600/60)) $((s%60)); }
echo "========================================"
echo "Job ID:    {{.JobIDVar}}"
echo "Job Name:  {{.Name}}"
echo "Subject:   {{.SubjectID}}"
echo "CPUs:      {{.Threads}}"
echo "Memory:    {{.MemMB}} MB"
echo "Workdir:   "{{quote .WorkDir}}
echo "Started:   $(date '+%Y-%m-%d %T')"
echo "========================================"
{{range .Env}}export {{export .}}
{{end}}cd {{quote .InvocationDir}} || exit 1
{{if .DelaySeconds}}sleep {{.DelaySeconds}}
{{end}}mkdir -p {{quote .WorkDir}}
{{.CommandLine}}
_STATUS=$?
{{if .Ephemeral}}rm -rf {{quote .WorkDir}}
{{end}}echo "========================================"
echo "Job ID:    {{.JobIDVar}}"
echo "Exit code: $_STATUS"
echo "Elapsed:   $(_format_time $(($SECONDS - $_START_TIME)))"
echo "Completed: $(date '+%Y-%m-%d %T')"
echo "========================================"
exit $_STATUS
`))

type scriptData struct {
	*JobSpec
	JobIDVar     string
	DelaySeconds int
	CommandLine  string
}

// renderScript renders the job body. jobIDVar is the shell expression of the
// scheduler's job id (e.g. "$SLURM_JOB_ID").
func renderScript(job *JobSpec, jobIDVar string) (string, error) {
	if err := validateJob(job); err != nil {
		return "", err
	}
	data := scriptData{
		JobSpec:      job,
		JobIDVar:     jobIDVar,
		DelaySeconds: int(job.Delay.Seconds()),
		CommandLine:  commandLine(job),
	}
	var b strings.Builder
	if err := jobScript.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render job script for %s: %w", job.Name, err)
	}
	return b.String(), nil
}

func validateJob(job *JobSpec) error {
	switch {
	case job == nil:
		return fmt.Errorf("%w: nil job", ErrInvalidJobSpec)
	case job.Name == "":
		return fmt.Errorf("%w: empty job name", ErrInvalidJobSpec)
	case job.Threads < 1:
		return fmt.Errorf("%w: %s requests %d threads", ErrInvalidJobSpec, job.Name, job.Threads)
	case job.MemMB < 1:
		return fmt.Errorf("%w: %s requests %d MB", ErrInvalidJobSpec, job.Name, job.MemMB)
	case job.WalltimeHours < 1:
		return fmt.Errorf("%w: %s requests %d hours", ErrInvalidJobSpec, job.Name, job.WalltimeHours)
	case job.WorkDir == "":
		return fmt.Errorf("%w: %s has no working directory", ErrInvalidJobSpec, job.Name)
	case len(job.Command) == 0:
		return fmt.Errorf("%w: %s has no command", ErrInvalidJobSpec, job.Name)
	}
	return nil
}

// commandLine joins the quoted command with the verbatim pass-through args.
func commandLine(job *JobSpec) string {
	parts := make([]string, 0, len(job.Command)+1)
	for _, a := range job.Command {
		parts = append(parts, shellQuote(a))
	}
	if extra := strings.TrimSpace(job.PipelineArgs); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, " ")
}

// extraArgs splits the pass-through scheduler options.
func extraArgs(job *JobSpec) ([]string, error) {
	args, err := utils.SplitArgs(job.SchedulerArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: scheduler arguments %q: %v", ErrInvalidJobSpec, job.SchedulerArgs, err)
	}
	return args, nil
}

func walltime(hours int) string {
	return fmt.Sprintf("%d:00:00", hours)
}

const shellSpecial = " \t\n\"'\\`;&|<>()*?[]#~!{}"

var dquoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`")

// shellQuote double-quotes s when needed. "$" is left alone so variable
// references still expand.
func shellQuote(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	return `"` + dquoteEscaper.Replace(s) + `"`
}

// displayQuote single-quotes s when needed, for printing an argv.
func displayQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, shellSpecial+"$") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// exportLine renders KEY=VALUE with the value quoted.
func exportLine(kv string) string {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return key
	}
	return key + "=" + shellQuote(value)
}
