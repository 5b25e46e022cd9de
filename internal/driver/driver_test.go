package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/marcelzwiers/fmriprep-sub/internal/bids"
	"github.com/marcelzwiers/fmriprep-sub/internal/config"
	"github.com/marcelzwiers/fmriprep-sub/internal/scheduler"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

// fakeRunner answers in-flight queries with a fixed job list and accepts or
// rejects every submission.
type fakeRunner struct {
	inflight   []string
	queryErr   error
	submitExit int
	calls      []*scheduler.Command
}

func (f *fakeRunner) Run(_ context.Context, cmd *scheduler.Command) (*scheduler.Result, error) {
	f.calls = append(f.calls, cmd)
	switch cmd.Name {
	case "squeue", "sh":
		if f.queryErr != nil {
			return nil, f.queryErr
		}
		if cmd.Name == "sh" {
			var b strings.Builder
			for i, name := range f.inflight {
				fmt.Fprintf(&b, "Job Id: %d.dccn-l029\n    Job_Name = %s\n", 4000+i, name)
			}
			return &scheduler.Result{Stdout: b.String()}, nil
		}
		return &scheduler.Result{Stdout: strings.Join(f.inflight, "\n")}, nil
	case "sbatch", "qsub":
		if f.submitExit != 0 {
			return &scheduler.Result{ExitCode: f.submitExit, Stderr: "Batch job submission failed\n"}, nil
		}
		id := 100 + len(f.submissions()) - 1
		if cmd.Name == "qsub" {
			return &scheduler.Result{Stdout: fmt.Sprintf("%d.dccn-l029\n", id)}, nil
		}
		return &scheduler.Result{Stdout: fmt.Sprintf("Submitted batch job %d\n", id)}, nil
	}
	return &scheduler.Result{ExitCode: 127}, nil
}

func (f *fakeRunner) submissions() []*scheduler.Command {
	var subs []*scheduler.Command
	for _, c := range f.calls {
		if c.Name == "sbatch" || c.Name == "qsub" {
			subs = append(subs, c)
		}
	}
	return subs
}

type fixture struct {
	root   string
	cfg    config.Config
	runner *fakeRunner
}

func newFixture(t *testing.T) *fixture {
	root := t.TempDir()
	cfg := config.Default()
	cfg.BidsDir = filepath.Join(root, "bids")
	cfg.WorkRoot = filepath.Join(root, "work")
	cfg.User = "marzwi"
	cfg.Pipeline.Version = "23.2.1"
	cfg.Pipeline.License = filepath.Join(root, "license.txt")
	return &fixture{root: root, cfg: cfg, runner: &fakeRunner{}}
}

func (f *fixture) mkdirs(dirs ...string) {
	for _, d := range dirs {
		So(os.MkdirAll(d, 0o775), ShouldBeNil)
	}
}

func (f *fixture) outDir() string { return f.cfg.ResolvedOutputDir() }

func (f *fixture) run(backend scheduler.Backend, labels ...string) *Summary {
	d, err := New(&f.cfg, backend, f.runner)
	So(err, ShouldBeNil)
	subjects, err := bids.Scan(f.cfg.BidsDir, labels)
	So(err, ShouldBeNil)
	return d.Run(context.Background(), subjects)
}

func silence(t *testing.T) {
	stdout, stderr := utils.Stdout, utils.Stderr
	utils.Stdout, utils.Stderr = io.Discard, io.Discard
	t.Cleanup(func() { utils.Stdout, utils.Stderr = stdout, stderr })
}

func TestDriver(t *testing.T) {
	silence(t)

	Convey("Given a subject with two input sessions and one finished output session", t, func() {
		f := newFixture(t)
		f.mkdirs(
			filepath.Join(f.cfg.BidsDir, "sub-001", "ses-01"),
			filepath.Join(f.cfg.BidsDir, "sub-001", "ses-02"),
			filepath.Join(f.outDir(), "sub-001", "ses-01"),
		)

		Convey("A slurm run submits exactly one job for it", func() {
			summary := f.run(scheduler.NewSlurmBackend())

			So(summary.Outcomes, ShouldHaveLength, 1)
			out := summary.Outcomes[0]
			So(out.State, ShouldEqual, StateSubmitted)
			So(out.JobID, ShouldEqual, "100")
			So(out.Job.WorkDir, ShouldEqual, filepath.Join(f.cfg.WorkRoot, "sub-001"))
			So(out.Job.Threads, ShouldEqual, 2)
			So(out.Job.Delay, ShouldEqual, f.cfg.Resources.FirstJobDelay)

			subs := f.runner.submissions()
			So(subs, ShouldHaveLength, 1)
			So(subs[0].String(), ShouldStartWith, "sbatch")
			So(subs[0].Args, ShouldContain, "--cpus-per-task=2")
			So(subs[0].Args, ShouldContain, "--job-name=fmriprep_sub-001")
			So(subs[0].Stdin, ShouldContainSubstring, "--participant-label 001")

			Convey("And once the pipeline has finished, a second run only reports it as done", func() {
				f.mkdirs(filepath.Join(f.outDir(), "sub-001", "ses-02"))
				So(os.WriteFile(filepath.Join(f.outDir(), "sub-001.html"), []byte("<html/>"), 0o664), ShouldBeNil)
				f.runner.calls = nil

				summary := f.run(scheduler.NewSlurmBackend())
				So(summary.Count(StateDone), ShouldEqual, 1)
				So(f.runner.submissions(), ShouldBeEmpty)
			})
		})

		Convey("A torque run requests ppn from the derived threads", func() {
			summary := f.run(scheduler.NewTorqueBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateSubmitted)
			So(summary.Outcomes[0].JobID, ShouldEqual, "100.dccn-l029")
			subs := f.runner.submissions()
			So(subs, ShouldHaveLength, 1)
			So(subs[0].String(), ShouldStartWith, "qsub")
			So(subs[0].Args[1], ShouldContainSubstring, "ppn=2")
		})

		Convey("A dry run composes the job but executes no submission", func() {
			f.cfg.DryRun = true
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateDryRun)
			So(summary.Outcomes[0].Job, ShouldNotBeNil)
			So(f.runner.submissions(), ShouldBeEmpty)
		})

		Convey("A failing submission is recorded and the loop continues", func() {
			f.mkdirs(filepath.Join(f.cfg.BidsDir, "sub-002"))
			f.runner.submitExit = 1

			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Count(StateFailed), ShouldEqual, 2)
			So(f.runner.submissions(), ShouldHaveLength, 2)

			var se *scheduler.SubmissionError
			So(errors.As(summary.Outcomes[0].Err, &se), ShouldBeTrue)
			So(se.ExitCode(), ShouldEqual, 1)

			Convey("And the delay moves on to the next job that is submitted", func() {
				So(summary.Outcomes[1].Job.Delay, ShouldEqual, f.cfg.Resources.FirstJobDelay)
			})
		})

		Convey("A failing in-flight query does not prevent submission", func() {
			f.runner.queryErr = errors.New("squeue: command not found")
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateSubmitted)
		})
	})

	Convey("Given a subject without sessions and without a report", t, func() {
		f := newFixture(t)
		f.mkdirs(filepath.Join(f.cfg.BidsDir, "sub-001", "anat"), filepath.Join(f.outDir(), "sub-001"))

		Convey("It is not considered done", func() {
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateSubmitted)
		})
	})

	Convey("Given a subject whose job is already queued", t, func() {
		f := newFixture(t)
		f.mkdirs(filepath.Join(f.cfg.BidsDir, "sub-A", "anat"))
		f.runner.inflight = []string{"fmriprep_sub-010", "fmriprep_sub-A"}

		Convey("It is skipped when skip_inflight is on", func() {
			for _, backend := range []scheduler.Backend{scheduler.NewSlurmBackend(), scheduler.NewTorqueBackend()} {
				summary := f.run(backend)
				So(summary.Outcomes[0].State, ShouldEqual, StateInflight)
			}
			So(f.runner.submissions(), ShouldBeEmpty)
		})

		Convey("It is submitted when skip_inflight is off", func() {
			f.cfg.SkipInflight = false
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateSubmitted)
			So(f.runner.submissions(), ShouldHaveLength, 1)
		})
	})

	Convey("Given a complete subject with a leftover working directory", t, func() {
		f := newFixture(t)
		workDir := filepath.Join(f.cfg.WorkRoot, "sub-001")
		report := filepath.Join(f.outDir(), "sub-001.html")
		f.mkdirs(
			filepath.Join(f.cfg.BidsDir, "sub-001", "ses-01"),
			filepath.Join(f.outDir(), "sub-001", "ses-01"),
			filepath.Join(workDir, "fmriprep_wf"),
		)
		So(os.WriteFile(report, []byte("<html/>"), 0o664), ShouldBeNil)

		Convey("Without force nothing is submitted and nothing is removed", func() {
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateDone)
			So(utils.DirExists(workDir), ShouldBeTrue)
		})

		Convey("With force the oracle is bypassed and the workdir and report are removed", func() {
			f.cfg.Force = true
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateSubmitted)
			So(utils.DirExists(workDir), ShouldBeFalse)
			So(utils.FileExists(report), ShouldBeFalse)
		})

		Convey("With force and its job still in flight nothing is removed or submitted", func() {
			f.cfg.Force = true
			f.runner.inflight = []string{"fmriprep_sub-001"}
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateInflight)
			So(f.runner.submissions(), ShouldBeEmpty)
			So(utils.DirExists(workDir), ShouldBeTrue)
			So(utils.FileExists(report), ShouldBeTrue)
		})

		Convey("With force and skip_inflight off the job is resubmitted but the workdir is kept", func() {
			f.cfg.Force = true
			f.cfg.SkipInflight = false
			f.runner.inflight = []string{"fmriprep_sub-001"}
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateSubmitted)
			So(utils.DirExists(workDir), ShouldBeTrue)
		})

		Convey("With force in a dry run nothing is removed", func() {
			f.cfg.Force = true
			f.cfg.DryRun = true
			summary := f.run(scheduler.NewSlurmBackend())
			So(summary.Outcomes[0].State, ShouldEqual, StateDryRun)
			So(utils.DirExists(workDir), ShouldBeTrue)
			So(utils.FileExists(report), ShouldBeTrue)
		})
	})

	Convey("Given an explicit subject list with a missing subject", t, func() {
		f := newFixture(t)
		f.mkdirs(filepath.Join(f.cfg.BidsDir, "sub-001"))

		Convey("The missing subject is skipped and the others are processed", func() {
			summary := f.run(scheduler.NewSlurmBackend(), "999", "sub-001")
			So(summary.Outcomes, ShouldHaveLength, 2)
			So(summary.Outcomes[0].State, ShouldEqual, StateSkippedNoDir)
			So(summary.Outcomes[1].State, ShouldEqual, StateSubmitted)
			So(summary.Subjects(StateSkippedNoDir), ShouldResemble, []string{"sub-999"})
			So(summary.Outcomes[1].Job.Delay, ShouldEqual, f.cfg.Resources.FirstJobDelay)
		})
	})

	Convey("Given a cancelled context", t, func() {
		f := newFixture(t)
		f.mkdirs(filepath.Join(f.cfg.BidsDir, "sub-001"))
		d, err := New(&f.cfg, scheduler.NewSlurmBackend(), f.runner)
		So(err, ShouldBeNil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("No subject is processed", func() {
			summary := d.Run(ctx, []bids.Subject{bids.NewSubject(f.cfg.BidsDir, "001")})
			So(summary.Outcomes, ShouldBeEmpty)
			So(f.runner.calls, ShouldBeEmpty)
		})
	})

	Convey("Given a legacy pipeline version and a wrongly named output directory", t, func() {
		f := newFixture(t)
		f.cfg.Pipeline.Version = "20.2.7"
		f.cfg.OutputDir = filepath.Join(f.root, "prep")

		Convey("The driver refuses to start", func() {
			_, err := New(&f.cfg, scheduler.NewSlurmBackend(), f.runner)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestStateString(t *testing.T) {
	if StateSkippedNoDir.String() != "SKIPPED_NO_DIR" || StateInflight.String() != "IN_FLIGHT" {
		t.Errorf("unexpected state names %s, %s", StateSkippedNoDir, StateInflight)
	}
	if State(42).String() != "State(42)" {
		t.Errorf("unknown state = %s", State(42))
	}
}
