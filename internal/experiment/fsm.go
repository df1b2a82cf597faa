package experiment

import (
	"fmt"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// validTransitions defines the legal phase transitions for one experiment run.
// Each key is a source phase, and the value is the set of valid target phases.
// Done and Aborted are terminal.
var validTransitions = map[domain.ExperimentPhase]map[domain.ExperimentPhase]bool{
	domain.PhaseValidating: {domain.PhaseExecuting: true, domain.PhaseAborted: true},
	domain.PhaseExecuting:  {domain.PhaseScoring: true, domain.PhaseAborted: true},
	domain.PhaseScoring:    {domain.PhaseDone: true},
}

// IsValidTransition checks if a phase transition is legal.
func IsValidTransition(from, to domain.ExperimentPhase) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// advance moves the result to the target phase, rejecting illegal jumps.
func advance(res *domain.ExperimentResult, to domain.ExperimentPhase) error {
	if !IsValidTransition(res.Phase, to) {
		return domain.NewEngineError(
			domain.ErrInvalidPhase.Code,
			fmt.Sprintf("illegal transition %s -> %s", res.Phase, to),
		)
	}
	res.Phase = to
	return nil
}
