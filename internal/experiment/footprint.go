package experiment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// ParseFootprint decodes a submitted experiment description.
func ParseFootprint(raw []byte) (*domain.ExperimentFootprint, error) {
	var fp domain.ExperimentFootprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		return nil, domain.WrapEngineError(domain.ErrFootprintInvalid.Code, "footprint is not valid JSON", err)
	}
	return &fp, nil
}

// FootprintValidator validates the structural shape of a footprint before
// any instrument state is read.
type FootprintValidator struct{}

// Validate checks the required fields of the given footprint and returns an
// error listing all violations if any are found. An empty action list is
// legal: such a footprint exercises only its constraints.
func (v *FootprintValidator) Validate(fp domain.ExperimentFootprint) error {
	var violations []string

	if fp.ID == "" {
		violations = append(violations, "id must be non-empty")
	}
	for i, action := range fp.Actions {
		if action.Name == "" {
			violations = append(violations, fmt.Sprintf("actions[%d] name must be non-empty", i))
		}
	}
	for i, c := range fp.Constraints {
		if c.Parameter == "" {
			violations = append(violations, fmt.Sprintf("constraints[%d] parameter must be non-empty", i))
		}
	}
	if fp.Reward != nil && fp.Reward.MetricType == "" {
		violations = append(violations, "reward metric_type must be non-empty")
	}

	if len(violations) > 0 {
		msg := strings.Join(violations, "; ")
		return domain.NewEngineError(domain.ErrFootprintInvalid.Code, msg)
	}
	return nil
}
