// Package domain defines the core types for the microscope experiment engine.
package domain

// ModuleName identifies a logical backend server.
type ModuleName string

const (
	ModuleCentral ModuleName = "Central"
	ModuleAS      ModuleName = "AS"
	ModuleCeos    ModuleName = "Ceos"
)

// RunMode selects between simulated and hardware-backed server modules.
type RunMode string

const (
	ModeMock RunMode = "mock"
	ModeReal RunMode = "real"
)

// ServerDescriptor identifies a logical backend and how to launch it.
// MockCommand may be empty, in which case the real command is launched
// in every mode.
type ServerDescriptor struct {
	Name        ModuleName
	RealCommand []string
	MockCommand []string
	Host        string
	Port        int
}

// Resolve returns the command to launch for the given run mode.
func (d ServerDescriptor) Resolve(mode RunMode) []string {
	if mode == ModeMock && len(d.MockCommand) > 0 {
		return d.MockCommand
	}
	return d.RealCommand
}

// RunningProcess describes one tracked backend process. Entries are owned
// exclusively by the backend supervisor.
type RunningProcess struct {
	Module ModuleName
	PID    int
	Port   int
}

// ExperimentPhase represents the engine's execution phases.
type ExperimentPhase string

const (
	PhaseValidating ExperimentPhase = "validating"
	PhaseExecuting  ExperimentPhase = "executing"
	PhaseScoring    ExperimentPhase = "scoring"
	PhaseDone       ExperimentPhase = "done"
	PhaseAborted    ExperimentPhase = "aborted"
)

// ExperimentAction references a facade operation by name with keyword parameters.
type ExperimentAction struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ExperimentConstraint is a three-way bound check against one state parameter.
// Unset bounds are not checked.
type ExperimentConstraint struct {
	Parameter   string   `json:"parameter"`
	MinValue    *float64 `json:"min_value,omitempty"`
	MaxValue    *float64 `json:"max_value,omitempty"`
	TargetValue *float64 `json:"target_value,omitempty"`
}

// Check reports whether the current value satisfies every set bound.
func (c ExperimentConstraint) Check(current float64) bool {
	if c.MinValue != nil && current < *c.MinValue {
		return false
	}
	if c.MaxValue != nil && current > *c.MaxValue {
		return false
	}
	if c.TargetValue != nil && current != *c.TargetValue {
		return false
	}
	return true
}

// RewardMetric is a stateless scoring function applied to an experiment's
// final output.
type RewardMetric struct {
	MetricType string         `json:"metric_type"`
	Target     string         `json:"target,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// ExperimentFootprint is a submitted, immutable experiment description.
// It fully determines which hardware calls will be attempted and how
// success is scored.
type ExperimentFootprint struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Actions     []ExperimentAction     `json:"actions"`
	Constraints []ExperimentConstraint `json:"constraints,omitempty"`
	Observables []string               `json:"observables,omitempty"`
	Reward      *RewardMetric          `json:"reward,omitempty"`
}

// ExperimentResult is produced once per execution and returned even when
// the run aborted; the log is the audit trail. A non-empty Violations list
// means the run was rejected during validation and no action was attempted.
type ExperimentResult struct {
	ExperimentID string
	Phase        ExperimentPhase
	Log          []string
	Data         map[string]any
	Violations   []string
	Reward       float64
	Success      bool
}

// StateSnapshot is a point-in-time capture of instrument state keyed by
// parameter name (e.g. "screen_current", "stage_x").
type StateSnapshot map[string]any

// RunRecord is a persisted experiment execution.
type RunRecord struct {
	RunID        string
	ExperimentID string
	Description  string
	Phase        ExperimentPhase
	Success      bool
	Reward       float64
	Log          []string
	StartedAt    int64
	FinishedAt   int64
}

// CaptureRecord is a persisted image artifact reference.
type CaptureRecord struct {
	CaptureID string
	RunID     string
	Path      string
	Rows      int
	Cols      int
	Dtype     string
	Detector  string
	CreatedAt int64
}
