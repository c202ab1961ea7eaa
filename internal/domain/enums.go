// Package domain contains the core domain models for backtestlab.
package domain

// JobStatus represents the status of an optimization job as reported by the execution service.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"

	// JobStatusUnknown stands in for any value the execution service sends
	// outside the four above.
	JobStatusUnknown JobStatus = "unknown"
)

// IsTerminal returns true if the status reports a final outcome.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive returns true while the job is still being executed. Polling
// continues only for active statuses.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// IsValid returns true if the status is a valid JobStatus.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s JobStatus) String() string {
	return string(s)
}

// JobStatusFromString converts a string to JobStatus.
func JobStatusFromString(s string) JobStatus {
	status := JobStatus(s)
	if status.IsValid() {
		return status
	}
	return JobStatusUnknown
}

// Mode selects which request shape and lifecycle path a submission uses.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeOptimize Mode = "optimize"
)

// IsValid returns true if the mode is a valid Mode.
func (m Mode) IsValid() bool {
	return m == ModeSingle || m == ModeOptimize
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// ModeFromString converts a string to Mode.
func ModeFromString(s string) Mode {
	mode := Mode(s)
	if mode.IsValid() {
		return mode
	}
	return ModeSingle
}

// ParamType is the declared type of a strategy parameter.
type ParamType string

const (
	ParamTypeInteger ParamType = "integer"
	ParamTypeFloat   ParamType = "float"
	ParamTypeString  ParamType = "string"
)

// IsValid returns true if the type is a valid ParamType.
func (t ParamType) IsValid() bool {
	switch t {
	case ParamTypeInteger, ParamTypeFloat, ParamTypeString:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether values of this type are numbers.
func (t ParamType) IsNumeric() bool {
	return t == ParamTypeInteger || t == ParamTypeFloat
}

// String returns the string representation of the type.
func (t ParamType) String() string {
	return string(t)
}

// ParamTypeFromString converts a string to ParamType. Unknown types fall back to float.
func ParamTypeFromString(s string) ParamType {
	t := ParamType(s)
	if t.IsValid() {
		return t
	}
	return ParamTypeFloat
}

// RangeField names one of the three editable fields of a sweep range.
type RangeField string

const (
	RangeFieldStart RangeField = "start"
	RangeFieldEnd   RangeField = "end"
	RangeFieldStep  RangeField = "step"
)

// IsValid returns true if the field is a valid RangeField.
func (f RangeField) IsValid() bool {
	switch f {
	case RangeFieldStart, RangeFieldEnd, RangeFieldStep:
		return true
	default:
		return false
	}
}

// RunStatus is the lifecycle state of a submission as tracked by the client.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusSubmitting RunStatus = "submitting"
	RunStatusPending    RunStatus = "pending"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusAbandoned  RunStatus = "abandoned"
)

// IsTerminal returns true if the run reached an end state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusAbandoned
}

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a valid RunStatus.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusIdle, RunStatusSubmitting, RunStatusPending, RunStatusRunning,
		RunStatusCompleted, RunStatusFailed, RunStatusAbandoned:
		return true
	}
	return false
}
