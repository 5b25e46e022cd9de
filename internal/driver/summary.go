package driver

import (
	"fmt"
	"strings"

	"github.com/marcelzwiers/fmriprep-sub/internal/bids"
	"github.com/marcelzwiers/fmriprep-sub/internal/scheduler"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

// State is the terminal classification of one subject in a run.
type State int

const (
	StateSkippedNoDir State = iota // input folder missing
	StateDone                      // outputs and report present
	StateInflight                  // job already queued or running
	StateSubmitted                 // job handed to the scheduler
	StateFailed                    // submission failed
	StateDryRun                    // job composed but not submitted
)

var stateNames = map[State]string{
	StateSkippedNoDir: "SKIPPED_NO_DIR",
	StateDone:         "DONE",
	StateInflight:     "IN_FLIGHT",
	StateSubmitted:    "SUBMITTED",
	StateFailed:       "FAILED",
	StateDryRun:       "DRY_RUN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is what happened to one subject.
type Outcome struct {
	Subject bids.Subject
	State   State
	Job     *scheduler.JobSpec // nil unless a job was composed
	JobID   string
	Err     error
}

// Summary collects the outcomes of a run in processing order.
type Summary struct {
	DryRun   bool
	Outcomes []Outcome
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
}

// Count returns the number of subjects that ended in state.
func (s *Summary) Count(state State) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// Subjects returns the ids of the subjects that ended in state.
func (s *Summary) Subjects(state State) []string {
	var ids []string
	for _, o := range s.Outcomes {
		if o.State == state {
			ids = append(ids, o.Subject.ID)
		}
	}
	return ids
}

// Print writes the per-state counts.
func (s *Summary) Print() {
	utils.PrintMessage("%s", utils.StyleTitle("Summary"))
	for _, state := range []State{StateSubmitted, StateDryRun, StateFailed, StateInflight, StateDone, StateSkippedNoDir} {
		n := s.Count(state)
		if n == 0 {
			continue
		}
		line := fmt.Sprintf("  %-15s %s", state, utils.StyleNumber(n))
		if state == StateFailed || state == StateSkippedNoDir {
			line += "  " + strings.Join(s.Subjects(state), " ")
		}
		utils.PrintMessage("%s", line)
	}
	if len(s.Outcomes) == 0 {
		utils.PrintMessage("  no subjects found")
	}
}
