package microscope

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/npy"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/route"
)

// NotConnectedMsg is the reply every facade operation returns when no
// session is live. It is a result string, not an error: experiment actions
// record it in the run log the same way they record instrument replies.
const NotConnectedMsg = "Error: Not connected to microscope server. Call connect_client first."

// Facade is the high-level command surface over the routed client. Each
// operation wraps one or two wire commands and returns the reply text.
// Error-marked instrument replies come back as the result string with a
// nil error; the error return carries transport failures, timeouts and
// guard rejections, which callers must not mistake for instrument output.
type Facade struct {
	client *route.Client
	cfg    *config.Config
	guard  *RangeGuard

	// onCapture observes every persisted image artifact when set.
	onCapture func(domain.CaptureRecord)
}

// NewFacade builds the command surface over an existing client.
func NewFacade(client *route.Client, cfg *config.Config) *Facade {
	return &Facade{client: client, cfg: cfg, guard: NewRangeGuard(cfg)}
}

// relay sends one command and hands back the reply text. Disconnected
// sessions short-circuit to NotConnectedMsg without touching the wire.
func (f *Facade) relay(ctx context.Context, dest domain.ModuleName, command string, args map[string]any) (string, error) {
	if !f.client.Connected() {
		return NotConnectedMsg, nil
	}
	resp, err := f.client.SendCommand(ctx, dest, command, args)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// state sends one command expecting a structured state reply.
func (f *Facade) state(ctx context.Context, dest domain.ModuleName, command string, args map[string]any) (map[string]any, error) {
	if !f.client.Connected() {
		return nil, domain.ErrNotConnected
	}
	resp, err := f.client.SendCommand(ctx, dest, command, args)
	if err != nil {
		return nil, err
	}
	if resp.Kind != route.KindState {
		return nil, domain.NewEngineError(domain.ErrBadResponse.Code,
			fmt.Sprintf("%s returned %s, want state: %s", command, resp.Kind, resp.Text()))
	}
	return resp.State, nil
}

// num reads a numeric field from a decoded state map. Wire numbers always
// decode as float64.
func num(state map[string]any, key string) float64 {
	v, _ := state[key].(float64)
	return v
}

// AdjustMagnification sets the magnification to the given value.
func (f *Facade) AdjustMagnification(ctx context.Context, amount float64) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "set_microscope_status", map[string]any{
		"parameter": "magnification",
		"value":     amount,
	})
}

// GetStagePosition reads the five-axis stage position.
func (f *Facade) GetStagePosition(ctx context.Context) (string, error) {
	stage, err := f.state(ctx, domain.ModuleAS, "get_stage", nil)
	if err != nil {
		if err == domain.ErrNotConnected {
			return NotConnectedMsg, nil
		}
		return "", err
	}
	return fmt.Sprintf("Stage position: [%g %g %g %g %g]",
		num(stage, "x"), num(stage, "y"), num(stage, "z"), num(stage, "a"), num(stage, "b")), nil
}

// SetStagePosition moves the stage in x and y. Relative moves resolve the
// target against the current position first, so the range guard always
// sees the absolute destination.
func (f *Facade) SetStagePosition(ctx context.Context, x, y float64, relative bool) (string, error) {
	if !f.client.Connected() {
		return NotConnectedMsg, nil
	}

	targetX, targetY := x, y
	if relative {
		stage, err := f.state(ctx, domain.ModuleAS, "get_stage", nil)
		if err != nil {
			return "", err
		}
		targetX += num(stage, "x")
		targetY += num(stage, "y")
	}
	if err := f.guard.CheckStage(targetX, targetY); err != nil {
		return "", err
	}

	return f.relay(ctx, domain.ModuleAS, "set_stage", map[string]any{
		"positions": map[string]any{"x": x, "y": y},
		"relative":  relative,
	})
}

// CalibrateScreenCurrent runs the screen current calibration routine.
func (f *Facade) CalibrateScreenCurrent(ctx context.Context) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "calibrate_screen_current", nil)
}

// SetScreenCurrent sets the screen current in pA.
func (f *Facade) SetScreenCurrent(ctx context.Context, value float64) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "set_screen_current", map[string]any{"value": value})
}

// SetBeamCurrent sets the beam current in pA.
func (f *Facade) SetBeamCurrent(ctx context.Context, value float64) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "set_beam_current", map[string]any{"value": value})
}

// PlaceBeam positions the beam at fractional image coordinates.
func (f *Facade) PlaceBeam(ctx context.Context, x, y float64) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "place_beam", map[string]any{"x": x, "y": y})
}

// BlankBeam blanks the beam.
func (f *Facade) BlankBeam(ctx context.Context) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "blank_beam", nil)
}

// UnblankBeam restores the beam. A positive duration holds the beam open
// for that many seconds and then re-blanks before returning.
func (f *Facade) UnblankBeam(ctx context.Context, duration float64) (string, error) {
	reply, err := f.relay(ctx, domain.ModuleAS, "unblank_beam", nil)
	if err != nil || duration <= 0 || reply == NotConnectedMsg || strings.Contains(reply, "ERROR") {
		return reply, err
	}

	select {
	case <-time.After(time.Duration(duration * float64(time.Second))):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if _, err := f.relay(ctx, domain.ModuleAS, "blank_beam", nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("Beam unblanked for %g s, then reblanked.", duration), nil
}

// CaptureImage acquires a frame and persists it under the temp directory
// as an NPY artifact. The reply names the shape and the saved path; the
// scoring pipeline extracts the path after the "saved to " marker. Size
// zero uses the detector default.
func (f *Facade) CaptureImage(ctx context.Context, detector string, size int) (string, error) {
	if !f.client.Connected() {
		return NotConnectedMsg, nil
	}
	args := map[string]any{}
	if detector != "" {
		args["detector"] = detector
	}
	if size > 0 {
		if err := f.guard.CheckImageSize(size); err != nil {
			return "", err
		}
		args["size"] = size
	}

	resp, err := f.client.SendCommand(ctx, domain.ModuleAS, "acquire_image", args)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return resp.Text(), nil
	}
	arr, err := resp.Array()
	if err != nil {
		return "", err
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("microscope_capture_%d.npy", time.Now().Unix()))
	if err := npy.Save(path, arr); err != nil {
		return "", domain.WrapEngineError(domain.ErrActionFailure.Code, "persist capture artifact", err)
	}
	if f.onCapture != nil {
		f.onCapture(domain.CaptureRecord{
			Path:      path,
			Rows:      arr.Shape[0],
			Cols:      arr.Shape[1],
			Dtype:     arr.Dtype,
			Detector:  detector,
			CreatedAt: time.Now().Unix(),
		})
	}
	return fmt.Sprintf("Image captured with shape %s saved to %s", arr.ShapeString(), path), nil
}

// GetMicroscopeStatus reports the coarse instrument health snapshot as
// sorted key=value pairs.
func (f *Facade) GetMicroscopeStatus(ctx context.Context) (string, error) {
	status, err := f.state(ctx, domain.ModuleAS, "get_instrument_status", nil)
	if err != nil {
		if err == domain.ErrNotConnected {
			return NotConnectedMsg, nil
		}
		return "", err
	}

	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, status[k]))
	}
	return strings.Join(parts, ", "), nil
}

// GetMicroscopeState returns the full parameter snapshot the constraint
// gate checks against. Unlike the string-returning operations it reports
// a disconnected session as an error, letting the engine distinguish
// "no session" from instrument output.
func (f *Facade) GetMicroscopeState(ctx context.Context) (domain.StateSnapshot, error) {
	state, err := f.state(ctx, domain.ModuleAS, "get_microscope_state", nil)
	if err != nil {
		return nil, err
	}
	return domain.StateSnapshot(state), nil
}

// SetColumnValve opens or closes the column valve; state is Open or Closed.
func (f *Facade) SetColumnValve(ctx context.Context, state string) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "set_column_valve", map[string]any{"state": state})
}

// SetOpticsMode switches the optics mode (STEM, TEM, ...).
func (f *Facade) SetOpticsMode(ctx context.Context, mode string) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "set_optics_mode", map[string]any{"mode": mode})
}

// DiscoverCommands lists the command catalogue of a destination module.
// An empty destination defaults to the instrument server.
func (f *Facade) DiscoverCommands(ctx context.Context, dest string) (string, error) {
	target := domain.ModuleName(dest)
	if dest == "" {
		target = domain.ModuleAS
	}
	return f.relay(ctx, target, "discover_commands", nil)
}

// GetCeosInfo reports the aberration corrector's identity and firmware.
func (f *Facade) GetCeosInfo(ctx context.Context) (string, error) {
	return f.relay(ctx, domain.ModuleCeos, "get_info", nil)
}

// GetAtomCount reads the current atom count from the analysis pipeline.
func (f *Facade) GetAtomCount(ctx context.Context) (string, error) {
	return f.relay(ctx, domain.ModuleAS, "get_atom_count", nil)
}

// TuneC1A1 runs the corrector's first-order tuning routine.
func (f *Facade) TuneC1A1(ctx context.Context) (string, error) {
	return f.relay(ctx, domain.ModuleCeos, "tune_C1A1", nil)
}

// AcquireTableau measures the aberration tableau and returns the
// coefficient mapping.
func (f *Facade) AcquireTableau(ctx context.Context, tabType string, angle float64) (map[string]any, error) {
	args := map[string]any{}
	if tabType != "" {
		args["tab_type"] = tabType
	}
	if angle != 0 {
		args["angle"] = angle
	}
	return f.state(ctx, domain.ModuleCeos, "acquire_tableau", args)
}

// GetDetectors lists the instrument's acquisition devices.
func (f *Facade) GetDetectors(ctx context.Context) (string, error) {
	detectors, err := f.state(ctx, domain.ModuleAS, "get_detectors", nil)
	if err != nil {
		if err == domain.ErrNotConnected {
			return NotConnectedMsg, nil
		}
		return "", err
	}

	raw, _ := detectors["detectors"].([]any)
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return "Available detectors: " + strings.Join(names, ", "), nil
}
