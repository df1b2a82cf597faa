package experiment

import (
	"fmt"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/reward"
)

// ConstraintGate is the final safety check before any hardware interaction.
type ConstraintGate struct{}

// Check evaluates every constraint whose parameter appears in the state
// snapshot and returns the full violation list, not just the first. A
// parameter absent from the snapshot is not applicable and is skipped; a
// present value that is not numeric fails closed.
func (g *ConstraintGate) Check(fp domain.ExperimentFootprint, state domain.StateSnapshot) []string {
	var violations []string
	for _, c := range fp.Constraints {
		raw, ok := state[c.Parameter]
		if !ok {
			continue
		}
		val, numeric := reward.Numeric(raw)
		if !numeric || !c.Check(val) {
			violations = append(violations,
				fmt.Sprintf("Constraint failed for %s: value %v outside bounds.", c.Parameter, raw))
		}
	}
	return violations
}
