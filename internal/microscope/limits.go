package microscope

import (
	"fmt"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// RangeGuard enforces the configured hardware envelope before a command
// reaches the instrument. A rejected request never travels on the wire.
type RangeGuard struct {
	cfg *config.Config
}

// NewRangeGuard creates a guard over the configured limits.
func NewRangeGuard(cfg *config.Config) *RangeGuard {
	return &RangeGuard{cfg: cfg}
}

// CheckStage validates an absolute stage target in microns. Relative moves
// must be resolved to absolute coordinates before the check.
func (g *RangeGuard) CheckStage(x, y float64) error {
	if x < g.cfg.StageXMin || x > g.cfg.StageXMax {
		return domain.NewEngineError(domain.ErrStageBounds.Code,
			fmt.Sprintf("stage x %g outside [%g, %g]", x, g.cfg.StageXMin, g.cfg.StageXMax))
	}
	if y < g.cfg.StageYMin || y > g.cfg.StageYMax {
		return domain.NewEngineError(domain.ErrStageBounds.Code,
			fmt.Sprintf("stage y %g outside [%g, %g]", y, g.cfg.StageYMin, g.cfg.StageYMax))
	}
	return nil
}

// CheckImageSize validates a requested acquisition size. Callers pass only
// explicit requests; zero means the detector default and is never checked.
func (g *RangeGuard) CheckImageSize(size int) error {
	if size > g.cfg.MaxImageSize {
		return domain.NewEngineError(domain.ErrImageTooLarge.Code,
			fmt.Sprintf("image size %d exceeds maximum %d", size, g.cfg.MaxImageSize))
	}
	return nil
}
