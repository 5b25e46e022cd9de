package scheduler

import (
	"fmt"
	"strings"
)

// Managers lists the accepted resource manager names.
var Managers = []string{"torque", "slurm"}

// New returns the backend for manager. An empty manager auto-detects the
// scheduler from PATH. "pbs" is accepted as an alias of "torque".
func New(manager string) (Backend, error) {
	t, err := ParseType(manager)
	if err != nil {
		return nil, err
	}
	if t == SchedulerUnknown {
		if t = DetectType(); t == SchedulerUnknown {
			return nil, ErrSchedulerNotFound
		}
	}
	return ForType(t), nil
}

// ParseType maps a manager name onto a SchedulerType.
func ParseType(manager string) (SchedulerType, error) {
	switch strings.ToLower(strings.TrimSpace(manager)) {
	case "":
		return SchedulerUnknown, nil
	case "torque", "pbs":
		return SchedulerTorque, nil
	case "slurm":
		return SchedulerSLURM, nil
	default:
		return SchedulerUnknown, fmt.Errorf("%w %q (choose from %s)", ErrUnknownManager, manager, strings.Join(Managers, ", "))
	}
}

// ForType returns the backend for a known type, nil otherwise.
func ForType(t SchedulerType) Backend {
	switch t {
	case SchedulerTorque:
		return NewTorqueBackend()
	case SchedulerSLURM:
		return NewSlurmBackend()
	}
	return nil
}
