package cmd

import (
	"fmt"
	"strings"

	"github.com/marcelzwiers/fmriprep-sub/internal/bids"
	"github.com/marcelzwiers/fmriprep-sub/internal/config"
	"github.com/marcelzwiers/fmriprep-sub/internal/scheduler"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
	"github.com/spf13/cobra"
)

var queueAll bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List the pipeline jobs that are queued, held or running",
	Long: `List the pipeline jobs of the user that are queued, held or running.

This is the same query that submit uses to skip subjects that are in flight.
Only jobs named <pipeline>_sub-* are listed unless --all is given.`,
	Example: `  fmriprep-sub queue
  fmriprep-sub queue --all --manager torque`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Global
		backend, err := scheduler.New(cfg.Manager)
		if err != nil {
			return err
		}

		names, _, err := scheduler.Inflight(cmd.Context(), backend, runner, cfg.User)
		if err != nil {
			if scheduler.IsQueryError(err) {
				utils.PrintHint("Check that %s works on this host", utils.StyleCommand(backend.InflightCommand(cfg.User).String()))
			}
			return err
		}

		prefix := scheduler.JobName(cfg.Pipeline.Name, bids.SubjectPrefix)
		n := 0
		for _, name := range names {
			if !queueAll && !strings.HasPrefix(name, prefix) {
				continue
			}
			fmt.Fprintln(utils.Stdout, name)
			n++
		}
		utils.PrintNote("%s job(s) in flight on %s", utils.StyleNumber(n), utils.StyleInfo(string(backend.Type())))
		return nil
	},
}

func init() {
	queueCmd.Flags().BoolVar(&queueAll, "all", false, "List all jobs of the user, not only pipeline jobs")
	queueCmd.Flags().StringP("manager", "m", "", "Scheduler: "+fmt.Sprint(scheduler.Managers)+" (default: auto-detect)")
	rootCmd.AddCommand(queueCmd)
}
