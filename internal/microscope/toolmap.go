package microscope

import (
	"context"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/experiment"
)

// Keyword-argument helpers. Footprint JSON decodes every number as
// float64, so tool adapters normalize through these instead of
// type-switching inline.

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

// ToolMap builds the static operation registry the experiment engine
// resolves action names against. Session-control operations (server
// bring-up, connect, close) are deliberately absent: a footprint drives
// the instrument but never reshapes the session it runs in.
func ToolMap(f *Facade) map[string]experiment.ToolFunc {
	return map[string]experiment.ToolFunc{
		"adjust_magnification": func(ctx context.Context, p map[string]any) (any, error) {
			return f.AdjustMagnification(ctx, floatParam(p, "amount", 0))
		},
		"get_stage_position": func(ctx context.Context, p map[string]any) (any, error) {
			return f.GetStagePosition(ctx)
		},
		"set_stage_position": func(ctx context.Context, p map[string]any) (any, error) {
			return f.SetStagePosition(ctx,
				floatParam(p, "x", 0), floatParam(p, "y", 0), boolParam(p, "relative", false))
		},
		"calibrate_screen_current": func(ctx context.Context, p map[string]any) (any, error) {
			return f.CalibrateScreenCurrent(ctx)
		},
		"set_screen_current": func(ctx context.Context, p map[string]any) (any, error) {
			return f.SetScreenCurrent(ctx, floatParam(p, "value", 0))
		},
		"set_beam_current": func(ctx context.Context, p map[string]any) (any, error) {
			return f.SetBeamCurrent(ctx, floatParam(p, "value", 0))
		},
		"place_beam": func(ctx context.Context, p map[string]any) (any, error) {
			return f.PlaceBeam(ctx, floatParam(p, "x", 0), floatParam(p, "y", 0))
		},
		"blank_beam": func(ctx context.Context, p map[string]any) (any, error) {
			return f.BlankBeam(ctx)
		},
		"unblank_beam": func(ctx context.Context, p map[string]any) (any, error) {
			return f.UnblankBeam(ctx, floatParam(p, "duration", 0))
		},
		"capture_image": func(ctx context.Context, p map[string]any) (any, error) {
			return f.CaptureImage(ctx, stringParam(p, "detector", ""), intParam(p, "size", 0))
		},
		"get_microscope_status": func(ctx context.Context, p map[string]any) (any, error) {
			return f.GetMicroscopeStatus(ctx)
		},
		"get_microscope_state": func(ctx context.Context, p map[string]any) (any, error) {
			return f.GetMicroscopeState(ctx)
		},
		"set_column_valve": func(ctx context.Context, p map[string]any) (any, error) {
			return f.SetColumnValve(ctx, stringParam(p, "state", ""))
		},
		"set_optics_mode": func(ctx context.Context, p map[string]any) (any, error) {
			return f.SetOpticsMode(ctx, stringParam(p, "mode", ""))
		},
		"discover_commands": func(ctx context.Context, p map[string]any) (any, error) {
			return f.DiscoverCommands(ctx, stringParam(p, "dest", ""))
		},
		"get_ceos_info": func(ctx context.Context, p map[string]any) (any, error) {
			return f.GetCeosInfo(ctx)
		},
		"get_atom_count": func(ctx context.Context, p map[string]any) (any, error) {
			return f.GetAtomCount(ctx)
		},
		"tune_C1A1": func(ctx context.Context, p map[string]any) (any, error) {
			return f.TuneC1A1(ctx)
		},
		"acquire_tableau": func(ctx context.Context, p map[string]any) (any, error) {
			return f.AcquireTableau(ctx, stringParam(p, "tab_type", ""), floatParam(p, "angle", 0))
		},
		"get_detectors": func(ctx context.Context, p map[string]any) (any, error) {
			return f.GetDetectors(ctx)
		},
	}
}
