// Package driver walks the subjects of a data directory and submits one
// pipeline job for every subject that is neither done nor in flight.
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcelzwiers/fmriprep-sub/internal/bids"
	"github.com/marcelzwiers/fmriprep-sub/internal/config"
	"github.com/marcelzwiers/fmriprep-sub/internal/derivatives"
	"github.com/marcelzwiers/fmriprep-sub/internal/plan"
	"github.com/marcelzwiers/fmriprep-sub/internal/scheduler"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

// Driver holds the collaborators of one run.
type Driver struct {
	Config  *config.Config
	Backend scheduler.Backend
	Runner  scheduler.Runner
	Planner *plan.Planner
	Oracle  *derivatives.Oracle
}

// New wires a Driver for cfg. The output layout is validated here so that
// configuration errors surface before anything is submitted.
func New(cfg *config.Config, backend scheduler.Backend, runner scheduler.Runner) (*Driver, error) {
	planner, err := plan.New(cfg, backend)
	if err != nil {
		return nil, err
	}
	return &Driver{
		Config:  cfg,
		Backend: backend,
		Runner:  runner,
		Planner: planner,
		Oracle:  derivatives.NewOracle(planner.OutputDir),
	}, nil
}

// Run processes subjects one after the other. Per-subject failures are
// recorded in the summary and never stop the loop; only a cancelled ctx
// does, leaving the remaining subjects unprocessed.
func (d *Driver) Run(ctx context.Context, subjects []bids.Subject) *Summary {
	summary := &Summary{DryRun: d.Config.DryRun}

	if !d.Config.DryRun {
		if err := utils.EnsureDir(d.Planner.OutputDir); err != nil {
			utils.PrintWarning("Could not create output directory %s: %v", utils.StylePath(d.Planner.OutputDir), err)
		}
	}

	first := true
	for _, subject := range subjects {
		if err := ctx.Err(); err != nil {
			utils.PrintWarning("Interrupted, %d subject(s) not processed", len(subjects)-len(summary.Outcomes))
			break
		}
		outcome := d.process(ctx, subject, first)
		if outcome.State == StateSubmitted || outcome.State == StateDryRun {
			first = false
		}
		summary.add(outcome)
	}
	return summary
}

func (d *Driver) process(ctx context.Context, subject bids.Subject, first bool) Outcome {
	out := Outcome{Subject: subject}

	if !subject.Exists() {
		utils.PrintWarning("Subject directory %s not found, skipping", utils.StylePath(subject.Path))
		out.State = StateSkippedNoDir
		return out
	}

	if !d.Config.Force {
		complete, err := d.Oracle.IsComplete(subject)
		if err != nil {
			utils.PrintWarning("Cannot inspect %s: %v", utils.StyleName(subject.ID), err)
			out.State, out.Err = StateFailed, err
			return out
		}
		if complete {
			utils.PrintMessage("%s has already been processed", utils.StyleName(subject.ID))
			out.State = StateDone
			return out
		}
	}

	jobName := scheduler.JobName(d.Config.Pipeline.Name, subject.ID)
	inflight := d.inflight(ctx, jobName)
	if inflight {
		if d.Config.SkipInflight {
			utils.PrintMessage("%s is already queued or running", utils.StyleName(jobName))
			out.State = StateInflight
			return out
		}
		utils.PrintWarning("%s is already queued or running, submitting anyway", utils.StyleName(jobName))
	}

	// A live job still uses its working directory
	if d.Config.Force {
		if inflight {
			utils.PrintWarning("Keeping the working directory of %s while its job is in flight", utils.StyleName(subject.ID))
		} else {
			d.cleanup(subject)
		}
	}

	job := d.Planner.Plan(subject, first)
	out.Job = job

	if d.Config.DryRun {
		cmd, err := d.Backend.SubmitCommand(job)
		if err != nil {
			utils.PrintWarning("Cannot compose the job of %s: %v", utils.StyleName(subject.ID), err)
			out.State, out.Err = StateFailed, err
			return out
		}
		utils.PrintMessage("Would submit %s:", utils.StyleName(jobName))
		utils.PrintBlock(cmd.String())
		out.State = StateDryRun
		return out
	}

	utils.PrintMessage("Submitting %s", utils.StyleName(jobName))
	res, err := scheduler.Submit(ctx, d.Backend, d.Runner, job)
	if err != nil {
		var se *scheduler.SubmissionError
		if errors.As(err, &se) {
			utils.PrintWarning("Job submission of %s failed with exit code %d: %s",
				utils.StyleName(jobName), se.ExitCode(), se.Stderr())
		} else {
			utils.PrintWarning("Job submission of %s failed: %v", utils.StyleName(jobName), err)
		}
		out.State, out.Err = StateFailed, err
		return out
	}

	out.JobID = d.Backend.ParseJobID(res.Stdout)
	if out.JobID != "" {
		utils.PrintSuccess("Submitted %s as job %s", utils.StyleName(jobName), utils.StyleNumber(out.JobID))
	} else {
		utils.PrintSuccess("Submitted %s", utils.StyleName(jobName))
	}
	out.State = StateSubmitted
	return out
}

// cleanup removes the persistent working directory and a stale report
// before a forced rerun. Failures are logged, never fatal.
func (d *Driver) cleanup(subject bids.Subject) {
	workDir := d.Planner.PersistentWorkDir(subject)
	if d.Config.DryRun {
		if workDir != "" && utils.DirExists(workDir) {
			utils.PrintNote("Would remove working directory %s", utils.StylePath(workDir))
		}
		if report := d.Oracle.ReportPath(subject); utils.FileExists(report) {
			utils.PrintNote("Would remove report %s", utils.StylePath(report))
		}
		return
	}
	if err := d.Oracle.Cleanup(subject, workDir); err != nil {
		utils.PrintWarning("Cleanup of %s was incomplete: %v", utils.StyleName(subject.ID), err)
	}
}

// inflight asks the scheduler about jobName. A failing query counts as not
// in flight.
func (d *Driver) inflight(ctx context.Context, jobName string) bool {
	ok, err := scheduler.IsJobInflight(ctx, d.Backend, d.Runner, jobName, d.Config.User)
	if err != nil {
		msg := fmt.Sprintf("Could not check whether %s is in flight: %v", jobName, err)
		if d.Config.DryRun {
			utils.PrintDebug("%s", msg)
		} else {
			utils.PrintWarning("%s", msg)
		}
		return false
	}
	return ok
}
