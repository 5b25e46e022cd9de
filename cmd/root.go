package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcelzwiers/fmriprep-sub/internal/config"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	debugMode  bool
	quietMode  bool
	configFile string
)

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"debug":             "debug",
	"quiet":             "quiet",
	"dry-run":           "dry_run",
	"force":             "force",
	"skip-inflight":     "skip_inflight",
	"outputdir":         "output_dir",
	"workroot":          "work_root",
	"participant-label": "participant_label",
	"manager":           "scheduler.manager",
	"args":              "args",
	"qargs":             "qargs",
	"mem-mb":            "resources.mem_mb",
	"nthreads":          "resources.nthreads",
	"walltime":          "resources.walltime_hours",
	"scratch-gb":        "resources.scratch_gb",
	"delay":             "resources.first_job_delay",
}

var rootCmd = &cobra.Command{
	Use:   "fmriprep-sub",
	Short: "Submit one fMRIPrep job per BIDS subject to a Torque or Slurm cluster",
	Long: `fmriprep-sub walks the subjects of a BIDS data directory and submits one
containerised preprocessing job per subject that has not been processed yet
and is not already queued or running.`,
	Version:       config.VERSION,
	SilenceErrors: true,
	SilenceUsage:  true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Initialize Viper (config file, env vars, defaults)
		if err := config.InitViper(configFile); err != nil {
			return err
		}

		// Step 2: Flags take precedence over everything else
		if err := bindFlags(cmd.Flags()); err != nil {
			return err
		}

		// Step 3: Load the merged values into the Global config
		if err := config.LoadFromViper(); err != nil {
			return err
		}

		utils.DebugMode = config.Global.Debug || debugMode
		utils.QuietMode = config.Global.Quiet || quietMode
		if utils.DebugMode {
			utils.PrintDebug("Debug mode enabled")
			utils.PrintDebug("fmriprep-sub Version: %s", utils.StyleInfo(config.VERSION))
			if used := viper.ConfigFileUsed(); used != "" {
				utils.PrintDebug("Config file: %s", utils.StylePath(used))
			}
		}
		return nil
	},
}

// bindFlags binds every known flag of the running command to its config key.
func bindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := viper.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("failed to bind flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// Execute runs the command tree. SIGINT and SIGTERM cancel the context so
// that a running batch stops before the next subject.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.PrintError("%v", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Subcommands are attached to rootCmd in their respective init() functions
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug mode with verbose output")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "Only print warnings and errors")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.config/fmriprep-sub/config.yaml)")
}
