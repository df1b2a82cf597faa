package experiment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/npy"
)

// recordingTools builds a small registry whose invocations append to calls.
func recordingTools(calls *[]string) map[string]ToolFunc {
	return map[string]ToolFunc{
		"adjust_magnification": func(ctx context.Context, params map[string]any) (any, error) {
			*calls = append(*calls, "adjust_magnification")
			return fmt.Sprintf("Magnification adjusted by %v.", params["amount"]), nil
		},
		"get_atom_count": func(ctx context.Context, params map[string]any) (any, error) {
			*calls = append(*calls, "get_atom_count")
			return 1247, nil
		},
		"exploding_tool": func(ctx context.Context, params map[string]any) (any, error) {
			*calls = append(*calls, "exploding_tool")
			return nil, errors.New("detector offline")
		},
	}
}

func fixedSnapshot(state domain.StateSnapshot) SnapshotFunc {
	return func(ctx context.Context) (domain.StateSnapshot, error) {
		return state, nil
	}
}

func newTestExecutor(calls *[]string, state domain.StateSnapshot) *Executor {
	return NewExecutor(recordingTools(calls), fixedSnapshot(state))
}

func TestExecutor_RunHappyPath(t *testing.T) {
	var calls []string
	exec := newTestExecutor(&calls, domain.StateSnapshot{"screen_current": 100.0})

	fp := domain.ExperimentFootprint{
		ID: "exp-1",
		Actions: []domain.ExperimentAction{
			{Name: "adjust_magnification", Params: map[string]any{"amount": 5000.0}},
			{Name: "get_atom_count"},
		},
		Constraints: []domain.ExperimentConstraint{
			{Parameter: "screen_current", MaxValue: floatPtr(200)},
		},
		Reward: &domain.RewardMetric{
			MetricType: "value_match",
			Params:     map[string]any{"target_value": 1247.0},
		},
	}

	res := exec.Run(context.Background(), fp)

	if !res.Success {
		t.Fatalf("Success = false, log: %v", res.Log)
	}
	if res.Phase != domain.PhaseDone {
		t.Errorf("Phase = %q, want done", res.Phase)
	}
	if len(res.Log) != 2 {
		t.Fatalf("len(Log) = %d, want 2: %v", len(res.Log), res.Log)
	}
	if !strings.HasPrefix(res.Log[0], "Action adjust_magnification executed. Output length: ") {
		t.Errorf("Log[0] = %q", res.Log[0])
	}
	if !strings.HasPrefix(res.Log[1], "Action get_atom_count executed. Output length: ") {
		t.Errorf("Log[1] = %q", res.Log[1])
	}
	if res.Data["last_output"] != 1247 {
		t.Errorf("last_output = %v, want 1247", res.Data["last_output"])
	}
	if res.Reward != 1.0 {
		t.Errorf("Reward = %v, want 1.0", res.Reward)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want both actions invoked", calls)
	}
}

func TestExecutor_UnknownActionEarlyAborts(t *testing.T) {
	var calls []string
	exec := newTestExecutor(&calls, domain.StateSnapshot{})

	fp := domain.ExperimentFootprint{
		ID: "exp-2",
		Actions: []domain.ExperimentAction{
			{Name: "adjust_magnification", Params: map[string]any{"amount": 100.0}},
			{Name: "phase_plate_wobble"},
			{Name: "get_atom_count"},
		},
	}

	res := exec.Run(context.Background(), fp)

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if res.Phase != domain.PhaseAborted {
		t.Errorf("Phase = %q, want aborted", res.Phase)
	}
	if len(calls) != 1 || calls[0] != "adjust_magnification" {
		t.Errorf("calls = %v, want only the first action attempted", calls)
	}
	last := res.Log[len(res.Log)-1]
	if last != "ERROR: Tool phase_plate_wobble not found." {
		t.Errorf("Log tail = %q", last)
	}
}

func TestExecutor_ActionErrorEarlyAborts(t *testing.T) {
	var calls []string
	exec := newTestExecutor(&calls, domain.StateSnapshot{})

	fp := domain.ExperimentFootprint{
		ID: "exp-3",
		Actions: []domain.ExperimentAction{
			{Name: "exploding_tool"},
			{Name: "get_atom_count"},
		},
	}

	res := exec.Run(context.Background(), fp)

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want execution stopped after the failure", calls)
	}
	if res.Log[0] != "ERROR executing exploding_tool: detector offline" {
		t.Errorf("Log[0] = %q", res.Log[0])
	}
}

func TestExecutor_NoRewardDeclared(t *testing.T) {
	var calls []string
	exec := newTestExecutor(&calls, domain.StateSnapshot{})

	fp := domain.ExperimentFootprint{
		ID:      "exp-4",
		Actions: []domain.ExperimentAction{{Name: "get_atom_count"}},
	}

	res := exec.Run(context.Background(), fp)

	if !res.Success {
		t.Fatalf("Success = false, log: %v", res.Log)
	}
	if res.Reward != 0.0 {
		t.Errorf("Reward = %v, want 0.0", res.Reward)
	}
	if res.Phase != domain.PhaseDone {
		t.Errorf("Phase = %q, want done", res.Phase)
	}
}

func TestExecutor_RejectedByConstraints(t *testing.T) {
	var calls []string
	exec := newTestExecutor(&calls, domain.StateSnapshot{"screen_current": 100.0})

	fp := domain.ExperimentFootprint{
		ID: "exp-5",
		Actions: []domain.ExperimentAction{
			{Name: "adjust_magnification", Params: map[string]any{"amount": 100.0}},
		},
		Constraints: []domain.ExperimentConstraint{
			{Parameter: "screen_current", MaxValue: floatPtr(50)},
		},
	}

	res := exec.Run(context.Background(), fp)

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if res.Phase != domain.PhaseAborted {
		t.Errorf("Phase = %q, want aborted", res.Phase)
	}
	if len(res.Violations) != 1 || !strings.Contains(res.Violations[0], "Constraint failed for screen_current") {
		t.Errorf("Violations = %v", res.Violations)
	}
	if len(calls) != 0 {
		t.Errorf("calls = %v, want no action attempted", calls)
	}
	if len(res.Log) != 0 {
		t.Errorf("Log = %v, want empty on rejection", res.Log)
	}
}

func TestExecutor_ScoringFromPersistedArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.npy")
	arr := &npy.Array{Shape: []int{2, 2}, Dtype: "uint16", Data: []float64{0, 0, 1, 1}}
	if err := npy.Save(path, arr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tools := map[string]ToolFunc{
		"capture_image": func(ctx context.Context, params map[string]any) (any, error) {
			return fmt.Sprintf("Image with shape (2, 2) saved to %s with detector ceta_camera", path), nil
		},
	}
	exec := NewExecutor(tools, fixedSnapshot(domain.StateSnapshot{}))

	fp := domain.ExperimentFootprint{
		ID:      "exp-6",
		Actions: []domain.ExperimentAction{{Name: "capture_image"}},
		Reward:  &domain.RewardMetric{MetricType: "image_entropy"},
	}

	res := exec.Run(context.Background(), fp)

	if !res.Success {
		t.Fatalf("Success = false, log: %v", res.Log)
	}
	// Two equiprobable intensity levels give exactly one bit of entropy.
	if res.Reward != 1.0 {
		t.Errorf("Reward = %v, want 1.0", res.Reward)
	}
}

func TestExecutor_ScoringLoadFailureKeepsSuccess(t *testing.T) {
	tools := map[string]ToolFunc{
		"capture_image": func(ctx context.Context, params map[string]any) (any, error) {
			return "Image saved to /nonexistent/dir/capture.npy", nil
		},
	}
	exec := NewExecutor(tools, fixedSnapshot(domain.StateSnapshot{}))

	fp := domain.ExperimentFootprint{
		ID:      "exp-7",
		Actions: []domain.ExperimentAction{{Name: "capture_image"}},
		Reward:  &domain.RewardMetric{MetricType: "image_entropy"},
	}

	res := exec.Run(context.Background(), fp)

	if !res.Success {
		t.Fatal("Success = false, scoring failure must not flip success")
	}
	if res.Phase != domain.PhaseDone {
		t.Errorf("Phase = %q, want done", res.Phase)
	}
	if res.Reward != 0.0 {
		t.Errorf("Reward = %v, want 0.0", res.Reward)
	}
	found := false
	for _, line := range res.Log {
		if line == "Could not load image for reward calculation." {
			found = true
		}
	}
	if !found {
		t.Errorf("missing load-failure log entry: %v", res.Log)
	}
}

func TestExecutor_PlainStringOutputNoReward(t *testing.T) {
	tools := map[string]ToolFunc{
		"blank_beam": func(ctx context.Context, params map[string]any) (any, error) {
			return "Beam blanked.", nil
		},
	}
	exec := NewExecutor(tools, fixedSnapshot(domain.StateSnapshot{}))

	fp := domain.ExperimentFootprint{
		ID:      "exp-8",
		Actions: []domain.ExperimentAction{{Name: "blank_beam"}},
		Reward:  &domain.RewardMetric{MetricType: "image_entropy"},
	}

	res := exec.Run(context.Background(), fp)

	if !res.Success {
		t.Fatalf("Success = false, log: %v", res.Log)
	}
	if res.Reward != 0.0 {
		t.Errorf("Reward = %v, want 0.0", res.Reward)
	}
	for _, line := range res.Log {
		if strings.Contains(line, "Could not load image") {
			t.Errorf("unexpected load-failure entry for a plain string output: %v", res.Log)
		}
	}
}

func TestExecutor_NotConnectedSnapshot(t *testing.T) {
	exec := NewExecutor(nil, func(ctx context.Context) (domain.StateSnapshot, error) {
		return nil, domain.ErrNotConnected
	})

	res := exec.Run(context.Background(), domain.ExperimentFootprint{ID: "exp-9"})

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if res.Phase != domain.PhaseAborted {
		t.Errorf("Phase = %q, want aborted", res.Phase)
	}
	if len(res.Log) != 1 || res.Log[0] != "ERROR: client not connected." {
		t.Errorf("Log = %v", res.Log)
	}
}

func TestExecutor_SnapshotFailureAborts(t *testing.T) {
	exec := NewExecutor(nil, func(ctx context.Context) (domain.StateSnapshot, error) {
		return nil, errors.New("connection reset")
	})

	res := exec.Run(context.Background(), domain.ExperimentFootprint{ID: "exp-10"})

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if len(res.Log) != 1 || !strings.Contains(res.Log[0], "could not read instrument state") {
		t.Errorf("Log = %v", res.Log)
	}
}

func TestArtifactPath(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"Image saved to /tmp/cap.npy", "/tmp/cap.npy"},
		{"Image with shape (4, 4) saved to /tmp/cap.npy with detector ceta_camera", "/tmp/cap.npy"},
		{"Image saved to ", ""},
	}

	for _, tt := range tests {
		if got := artifactPath(tt.reply); got != tt.want {
			t.Errorf("artifactPath(%q) = %q, want %q", tt.reply, got, tt.want)
		}
	}
}
