// Package derivatives decides whether a subject has already been processed
// by looking at the pipeline's output folder.
package derivatives

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/marcelzwiers/fmriprep-sub/internal/bids"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

// Oracle inspects an output directory for completed subjects.
type Oracle struct {
	OutputDir string
}

// NewOracle returns an Oracle for the given output directory.
func NewOracle(outputDir string) *Oracle {
	return &Oracle{OutputDir: outputDir}
}

// ReportPath returns the subject's completion report, <output>/<sub-id>.html.
func (o *Oracle) ReportPath(subject bids.Subject) string {
	return filepath.Join(o.OutputDir, subject.ID+".html")
}

// Status is the detailed outcome of a completion check.
type Status struct {
	InputSessions  []string
	OutputSessions []string
	Missing        []string // input sessions without output
	HasReport      bool
}

// Complete reports whether the status counts as done.
func (s Status) Complete() bool {
	if len(s.InputSessions) != len(s.OutputSessions) {
		return false
	}
	return len(s.Missing) == 0 && s.HasReport
}

// Inspect gathers the session and report state of subject.
func (o *Oracle) Inspect(subject bids.Subject) (Status, error) {
	var st Status
	var err error

	st.InputSessions, err = subject.Sessions()
	if err != nil {
		return st, fmt.Errorf("failed to list input sessions of %s: %w", subject.ID, err)
	}
	st.OutputSessions, err = subject.In(o.OutputDir).Sessions()
	if err != nil {
		return st, fmt.Errorf("failed to list output sessions of %s: %w", subject.ID, err)
	}

	done := make(map[string]bool, len(st.OutputSessions))
	for _, ses := range st.OutputSessions {
		done[ses] = true
	}
	for _, ses := range st.InputSessions {
		if !done[ses] {
			st.Missing = append(st.Missing, ses)
		}
	}
	st.HasReport = utils.FileExists(o.ReportPath(subject))
	return st, nil
}

// IsComplete reports whether every input session of subject has an output
// session and the subject's report exists. Differing session counts are
// incomplete without looking further. Subjects without sessions are complete
// only when the report exists.
func (o *Oracle) IsComplete(subject bids.Subject) (bool, error) {
	st, err := o.Inspect(subject)
	if err != nil {
		return false, err
	}
	return st.Complete(), nil
}

// Cleanup prepares a forced rerun of subject: the persistent working
// directory (if any) is removed recursively and a stale report is deleted.
// Failures do not stop the cleanup; they are returned together.
func (o *Oracle) Cleanup(subject bids.Subject, workDir string) error {
	var merr *multierror.Error

	if workDir != "" && utils.DirExists(workDir) {
		utils.PrintDebug("Removing working directory %s", utils.StylePath(workDir))
		if err := os.RemoveAll(workDir); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("remove working directory: %w", err))
		}
	}

	report := o.ReportPath(subject)
	if err := os.Remove(report); err != nil && !os.IsNotExist(err) {
		merr = multierror.Append(merr, fmt.Errorf("remove report: %w", err))
	} else if err == nil {
		utils.PrintDebug("Removed stale report %s", utils.StylePath(report))
	}

	return merr.ErrorOrNil()
}
