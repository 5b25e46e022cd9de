package cmd

import (
	"fmt"

	"github.com/marcelzwiers/fmriprep-sub/internal/apptainer"
	"github.com/marcelzwiers/fmriprep-sub/internal/bids"
	"github.com/marcelzwiers/fmriprep-sub/internal/config"
	"github.com/marcelzwiers/fmriprep-sub/internal/driver"
	"github.com/marcelzwiers/fmriprep-sub/internal/scheduler"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
	"github.com/spf13/cobra"
)

// runner is replaced in tests.
var runner scheduler.Runner = scheduler.ExecRunner{}

var submitCmd = &cobra.Command{
	Use:   "submit <bidsdir>",
	Short: "Submit one pipeline job per unprocessed subject",
	Long: `Submit one pipeline job per subject of a BIDS data directory.

A subject is skipped when its output folder holds one session folder per
input session and the subject report exists, or when a job of the same name
is already queued or running. All other subjects are submitted with the
configured resources; the first job of a batch waits before it starts.

Environment:
  FMRIPREP_VERSION  pipeline version (pipeline.version)
  FMRIPREP_ROOT     directory holding the container images (pipeline.root)
  FS_LICENSE        FreeSurfer license file (pipeline.license)
  USER              user whose jobs are checked (user)`,
	Example: `  fmriprep-sub submit /project/3017065.01/bids
  fmriprep-sub submit /project/3017065.01/bids -p 001 003 --mem-mb 24G --dry-run
  fmriprep-sub submit /project/3017065.01/bids --force --args "--fs-no-reconall"
  fmriprep-sub submit /project/3017065.01/bids --manager slurm --qargs "--partition=batch"`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg := &config.Global
	cfg.BidsDir = utils.AbsPath(args[0])
	if err := cfg.Validate(); err != nil {
		return err
	}

	backend, err := scheduler.New(cfg.Manager)
	if err != nil {
		return err
	}
	utils.PrintDebug("Using the %s scheduler", utils.StyleInfo(string(backend.Type())))
	if scheduler.IsInsideJob() {
		utils.PrintWarning("Running inside a scheduler job, the jobs will be submitted from there")
	}
	if err := apptainer.CheckImage(cfg.ImagePath()); err != nil {
		utils.PrintWarning("%v", err)
	}

	d, err := driver.New(cfg, backend, runner)
	if err != nil {
		return err
	}
	subjects, err := bids.Scan(cfg.BidsDir, cfg.Subjects)
	if err != nil {
		return err
	}
	utils.PrintDebug("Found %d subject(s) in %s", len(subjects), utils.StylePath(cfg.BidsDir))

	summary := d.Run(cmd.Context(), subjects)
	summary.Print()

	if summary.Count(driver.StateSubmitted) > 0 || summary.Count(driver.StateDryRun) > 0 {
		utils.PrintHint("When all jobs have finished, run the group level analysis:\n  %s",
			utils.StyleCommand(fmt.Sprintf("%s %s %s group", cfg.Pipeline.Name, cfg.BidsDir, d.Planner.OutputDir)))
	}
	return cmd.Context().Err()
}

func init() {
	f := submitCmd.Flags()
	f.StringP("outputdir", "o", "", "Output directory (default <bidsdir>/derivatives/<pipeline>)")
	f.StringP("workroot", "w", "", "Root of the persistent working directories (default: ephemeral scratch on the node)")
	f.StringSliceP("participant-label", "p", nil, "Subjects to process, with or without the sub- prefix (default: all)")
	f.BoolP("force", "f", false, "Remove previous results and resubmit subjects that are already done")
	f.Bool("skip-inflight", true, "Skip subjects whose job is already queued or running")
	f.StringP("manager", "m", "", "Scheduler: "+fmt.Sprint(scheduler.Managers)+" (default: auto-detect)")
	f.StringP("args", "a", "", "Extra arguments passed to the pipeline")
	f.StringP("qargs", "q", "", "Extra arguments passed to qsub/sbatch")
	f.String("mem-mb", "", "Memory per job, e.g. 20000, 20G or 20GB (default 20000)")
	f.IntP("nthreads", "n", 0, "Threads per job (default: one per 10 GB of memory, at most 8)")
	f.IntP("walltime", "t", 0, "Walltime per job in hours (default 24)")
	f.Int("scratch-gb", 0, "Local scratch per job in GB when the working directory is ephemeral (default 50)")
	f.String("delay", "", "Delay of the first job of a batch, e.g. 60s or 00:01:00 (default 60s)")
	f.BoolP("dry-run", "d", false, "Print the jobs instead of submitting them")

	_ = submitCmd.RegisterFlagCompletionFunc("manager", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return scheduler.Managers, cobra.ShellCompDirectiveNoFileComp
	})
	submitCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return nil, cobra.ShellCompDirectiveFilterDirs
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	rootCmd.AddCommand(submitCmd)
}
