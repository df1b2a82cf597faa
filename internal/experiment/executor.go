// Package experiment compiles submitted experiment footprints into sequential
// instrument operations and scores their outcome.
package experiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/npy"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/reward"
)

// ToolFunc is one registered facade operation invocable by name from an
// experiment action. Params carry the action's keyword arguments.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// SnapshotFunc returns a point-in-time instrument state keyed by parameter
// name. The executor calls it once per run, before any action is attempted.
type SnapshotFunc func(ctx context.Context) (domain.StateSnapshot, error)

// Executor drives one footprint at a time through the validate, execute,
// score phases. Execution is strictly sequential; the first failed action
// aborts the remainder of the plan.
type Executor struct {
	tools    map[string]ToolFunc
	snapshot SnapshotFunc
	gate     ConstraintGate
}

// NewExecutor creates an executor over a static operation registry.
func NewExecutor(tools map[string]ToolFunc, snapshot SnapshotFunc) *Executor {
	return &Executor{tools: tools, snapshot: snapshot}
}

// Run executes the footprint and always returns a result, even on abort;
// the accumulated log is the audit trail.
func (e *Executor) Run(ctx context.Context, fp domain.ExperimentFootprint) *domain.ExperimentResult {
	res := &domain.ExperimentResult{
		ExperimentID: fp.ID,
		Phase:        domain.PhaseValidating,
		Log:          []string{},
		Data:         map[string]any{},
		Success:      true,
	}

	state, err := e.snapshot(ctx)
	if err != nil {
		if engErr, ok := err.(*domain.EngineError); ok && engErr.Code == domain.ErrNotConnected.Code {
			return abort(res, "ERROR: client not connected.")
		}
		return abort(res, fmt.Sprintf("ERROR: could not read instrument state: %v", err))
	}

	if violations := e.gate.Check(fp, state); len(violations) > 0 {
		res.Violations = violations
		return abort(res, "")
	}

	if err := advance(res, domain.PhaseExecuting); err != nil {
		return abort(res, err.Error())
	}

	for _, action := range fp.Actions {
		tool, ok := e.tools[action.Name]
		if !ok {
			return abort(res, fmt.Sprintf("ERROR: Tool %s not found.", action.Name))
		}
		output, err := tool(ctx, action.Params)
		if err != nil {
			return abort(res, fmt.Sprintf("ERROR executing %s: %v", action.Name, err))
		}
		res.Log = append(res.Log, fmt.Sprintf("Action %s executed. Output length: %d", action.Name, len(fmt.Sprint(output))))
		// Only the most recent output is retained for scoring.
		res.Data["last_output"] = output
	}

	if err := advance(res, domain.PhaseScoring); err != nil {
		return abort(res, err.Error())
	}
	if fp.Reward != nil {
		e.score(res, *fp.Reward)
	}

	if err := advance(res, domain.PhaseDone); err != nil {
		return abort(res, err.Error())
	}
	return res
}

// score applies the reward metric to the most recent action output. A string
// output naming a persisted array is reloaded from disk first; a load failure
// is logged but does not flip overall success. Outputs of any other shape
// leave the reward at its zero default.
func (e *Executor) score(res *domain.ExperimentResult, metric domain.RewardMetric) {
	lastOut, ok := res.Data["last_output"]
	if !ok {
		return
	}
	if text, isStr := lastOut.(string); isStr {
		if !strings.Contains(text, ".npy") || !strings.Contains(text, "saved to") {
			return
		}
		arr, err := npy.Load(artifactPath(text))
		if err != nil {
			res.Log = append(res.Log, "Could not load image for reward calculation.")
			return
		}
		res.Reward = reward.Evaluate(metric, arr)
		return
	}
	if _, numeric := reward.Numeric(lastOut); numeric {
		res.Reward = reward.Evaluate(metric, lastOut)
	}
}

// artifactPath extracts the persisted array path from a capture reply: the
// first whitespace-delimited token after the "saved to " marker.
func artifactPath(reply string) string {
	_, after, _ := strings.Cut(reply, "saved to ")
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// abort marks the run failed, records the log line if non-empty, and moves
// to the terminal Aborted phase.
func abort(res *domain.ExperimentResult, line string) *domain.ExperimentResult {
	if line != "" {
		res.Log = append(res.Log, line)
	}
	res.Success = false
	res.Phase = domain.PhaseAborted
	return res
}
