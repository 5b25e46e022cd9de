package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	// ErrSchedulerNotFound indicates no scheduler binary was found
	ErrSchedulerNotFound = errors.New("no scheduler found in PATH (sbatch or qsub)")

	// ErrUnknownManager indicates an unsupported resource manager name
	ErrUnknownManager = errors.New("unknown resource manager")

	// ErrJobSubmissionFailed indicates the submit command exited non-zero
	ErrJobSubmissionFailed = errors.New("job submission failed")

	// ErrInvalidJobSpec indicates a job that cannot be rendered
	ErrInvalidJobSpec = errors.New("invalid job specification")
)

// SubmissionError represents an error during job submission
type SubmissionError struct {
	Scheduler string  // Scheduler name
	JobName   string  // Job name
	Result    *Result // Captured exit code and output; nil if nothing ran
	Err       error   // Underlying error
}

// ExitCode returns the exit code of the submit command, -1 when unknown.
func (e *SubmissionError) ExitCode() int {
	if e.Result == nil {
		return -1
	}
	return e.Result.ExitCode
}

// Stderr returns the trimmed stderr of the submit command.
func (e *SubmissionError) Stderr() string {
	if e.Result == nil {
		return ""
	}
	return strings.TrimSpace(e.Result.Stderr)
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("%s submission failed for job %s (exit code %d): %v",
		e.Scheduler, e.JobName, e.ExitCode(), e.Err)
	if stderr := e.Stderr(); stderr != "" {
		msg += "\nStderr: " + stderr
	}
	return msg
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// QueryError represents an error querying the scheduler's job list
type QueryError struct {
	Scheduler string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s job query failed: %v", e.Scheduler, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewSubmissionError creates a new SubmissionError
func NewSubmissionError(scheduler, jobName string, res *Result, err error) *SubmissionError {
	return &SubmissionError{
		Scheduler: scheduler,
		JobName:   jobName,
		Result:    res,
		Err:       err,
	}
}

// NewQueryError creates a new QueryError
func NewQueryError(scheduler string, err error) *QueryError {
	return &QueryError{Scheduler: scheduler, Err: err}
}

// IsQueryError checks if an error is a QueryError
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
