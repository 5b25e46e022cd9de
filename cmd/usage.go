package cmd

import (
	"fmt"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/marcelzwiers/fmriprep-sub/internal/usage"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
	"github.com/spf13/cobra"
)

var usagePattern string

var usageCmd = &cobra.Command{
	Use:   "usage <logdir>...",
	Short: "Report the walltime and memory used by finished jobs",
	Long: `Read the "Used resources" line that Torque appends to the job logs and
report the walltime and memory of every job. Use the maxima to tune
--walltime and --mem-mb of the next batch.

Logs without a usage line (running or killed jobs) and missing folders are
reported and skipped.`,
	Example: `  fmriprep-sub usage ~/logs
  fmriprep-sub usage ~/logs/batch1 ~/logs/batch2 --pattern 'fmriprep_sub-*.o*'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, dir := range args {
			folder, err := usage.ScanDir(utils.AbsPath(dir), usagePattern)
			if err != nil {
				utils.PrintWarning("%v", err)
				continue
			}
			printFolder(folder)
		}
		return nil
	},
}

func printFolder(folder *usage.Folder) {
	fmt.Fprintln(utils.Stdout, utils.StyleTitle(folder.Dir))
	for _, rec := range folder.Records {
		fmt.Fprintf(utils.Stdout, "  %-40s %8.2f h %10s\n",
			filepath.Base(rec.File), rec.WalltimeHours(), bytefmt.ByteSize(rec.MemBytes))
	}
	for _, err := range folder.Failed {
		utils.PrintWarning("%v", err)
	}
	if len(folder.Records) == 0 {
		utils.PrintNote("No usage found in %s", utils.StylePath(folder.Dir))
		return
	}
	fmt.Fprintf(utils.Stdout, "  %-40s %8.2f h %10s\n", fmt.Sprintf("max of %d job(s)", len(folder.Records)),
		folder.MaxWalltime().Hours(), bytefmt.ByteSize(folder.MaxMemBytes()))
}

func init() {
	usageCmd.Flags().StringVar(&usagePattern, "pattern", usage.DefaultPattern, "Glob pattern of the log files")
	rootCmd.AddCommand(usageCmd)
}
