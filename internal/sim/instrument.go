package sim

import (
	"sort"
	"strings"
	"sync"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/route"
)

// Stage axis order on the wire: x, y, z, alpha, beta.
var stageAxes = map[string]int{"x": 0, "y": 1, "z": 2, "a": 3, "b": 4}

type detectorSpec struct {
	size     int
	exposure float64
}

// Instrument is the simulated AS backend. It mirrors the state the
// hardware-backed server exposes: stage, optics, beam, screen current and
// the detector table. All state changes go through the command surface.
type Instrument struct {
	mu sync.Mutex

	initialized    bool
	instrumentHost string
	instrumentPort int

	source        string
	magnification float64
	stage         [5]float64
	beamCurrentPa float64
	screenCurrent float64
	atomCount     int
	blanked       bool
	columnValve   string
	opticsMode    string
	detectors     map[string]detectorSpec

	ops map[string]func(args map[string]any) route.Response
}

// NewInstrument returns an AS module in its power-on state.
func NewInstrument() *Instrument {
	i := &Instrument{
		source:        "SimTEM",
		magnification: 1000.0,
		beamCurrentPa: 1.0,
		screenCurrent: 100.0,
		atomCount:     1247,
		columnValve:   "Open",
		opticsMode:    "STEM",
		detectors: map[string]detectorSpec{
			"wobbler_camera": {size: 512, exposure: 0.1},
			"ceta_camera":    {size: 512, exposure: 0.1},
		},
	}
	i.ops = map[string]func(map[string]any) route.Response{
		"initialize":               i.initialize,
		"get_instrument_status":    i.getInstrumentStatus,
		"get_microscope_state":     i.getMicroscopeState,
		"get_stage":                i.getStage,
		"set_stage":                i.setStage,
		"acquire_image":            i.acquireImage,
		"set_microscope_status":    i.setMicroscopeStatus,
		"get_detectors":            i.getDetectors,
		"set_beam_current":         i.setBeamCurrent,
		"calibrate_screen_current": i.calibrateScreenCurrent,
		"set_screen_current":       i.setScreenCurrent,
		"get_atom_count":           i.getAtomCount,
		"place_beam":               i.placeBeam,
		"blank_beam":               i.blankBeam,
		"unblank_beam":             i.unblankBeam,
		"set_column_valve":         i.setColumnValve,
		"set_optics_mode":          i.setOpticsMode,
		"tune_C1A1":                i.tuneC1A1,
		"discover_commands":        i.discoverCommands,
		"close":                    i.closeServer,
	}
	return i
}

// Handle dispatches one wire command. Unknown names come back as errors,
// never as a fallthrough to some default behavior.
func (i *Instrument) Handle(req route.Request) route.Response {
	op, ok := i.ops[req.Command]
	if !ok {
		return route.ErrorResponse("Unknown command: %s", req.Command)
	}
	return op(req.Args)
}

// Commands returns the sorted command catalogue.
func (i *Instrument) Commands() []string {
	names := make([]string, 0, len(i.ops))
	for name := range i.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (i *Instrument) initialize(args map[string]any) route.Response {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.initialized = true
	i.instrumentHost = stringArg(args, "host", "localhost")
	i.instrumentPort = intArg(args, "port", 9001)
	return route.StatusResponse("AS client initialized for %s:%d.", i.instrumentHost, i.instrumentPort)
}

func (i *Instrument) getInstrumentStatus(map[string]any) route.Response {
	i.mu.Lock()
	defer i.mu.Unlock()
	return route.StateResponse(map[string]any{
		"vacuum":       "Ready",
		"column_valve": i.columnValve,
		"beam_current": 1.0e-9,
		"source":       i.source,
	})
}

func (i *Instrument) getMicroscopeState(map[string]any) route.Response {
	i.mu.Lock()
	defer i.mu.Unlock()
	return route.StateResponse(map[string]any{
		"vacuum":          "Ready",
		"column_valve":    i.columnValve,
		"beam_current":    1.0e-9,
		"beam_current_pa": i.beamCurrentPa,
		"source":          i.source,
		"magnification":   i.magnification,
		"screen_current":  i.screenCurrent,
		"optics_mode":     i.opticsMode,
		"beam_blanked":    i.blanked,
		"stage_x":         i.stage[0],
		"stage_y":         i.stage[1],
		"stage_z":         i.stage[2],
		"stage_a":         i.stage[3],
		"stage_b":         i.stage[4],
	})
}

func (i *Instrument) getStage(map[string]any) route.Response {
	i.mu.Lock()
	defer i.mu.Unlock()
	return route.StateResponse(map[string]any{
		"x": i.stage[0],
		"y": i.stage[1],
		"z": i.stage[2],
		"a": i.stage[3],
		"b": i.stage[4],
	})
}

func (i *Instrument) setStage(args map[string]any) route.Response {
	positions := mapArg(args, "positions")
	if positions == nil {
		return route.ErrorResponse("set_stage wants a positions mapping")
	}
	relative := boolArg(args, "relative", true)

	i.mu.Lock()
	defer i.mu.Unlock()
	for axis, raw := range positions {
		idx, ok := stageAxes[axis]
		if !ok {
			continue
		}
		v, ok := raw.(float64)
		if !ok {
			continue
		}
		if relative {
			i.stage[idx] += v
		} else {
			i.stage[idx] = v
		}
	}
	return route.StatusResponse("Stage position: [%g %g %g %g %g]",
		i.stage[0], i.stage[1], i.stage[2], i.stage[3], i.stage[4])
}

func (i *Instrument) acquireImage(args map[string]any) route.Response {
	detector := stringArg(args, "detector", "ceta_camera")

	i.mu.Lock()
	size := 512
	if spec, ok := i.detectors[detector]; ok {
		size = spec.size
	}
	i.mu.Unlock()

	if requested := intArg(args, "size", 0); requested > 0 {
		size = requested
	}

	data := make([]float64, size*size)
	for idx := range data {
		data[idx] = float64(idx % 256)
	}
	return route.ImageResponse(&route.ImagePayload{
		Rows:  size,
		Cols:  size,
		Dtype: "uint16",
		Data:  data,
	})
}

func (i *Instrument) setMicroscopeStatus(args map[string]any) route.Response {
	parameter := stringArg(args, "parameter", "")
	if parameter == "" {
		return route.ErrorResponse("set_microscope_status wants a parameter name")
	}
	value := floatArg(args, "value", 0)

	i.mu.Lock()
	defer i.mu.Unlock()
	switch parameter {
	case "magnification":
		i.magnification = value
	case "screen_current":
		i.screenCurrent = value
	case "beam_current_pa":
		i.beamCurrentPa = value
	}
	return route.StatusResponse("%s set to %g.", parameter, value)
}

func (i *Instrument) getDetectors(map[string]any) route.Response {
	i.mu.Lock()
	defer i.mu.Unlock()
	names := make([]string, 0, len(i.detectors))
	for name := range i.detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return route.StateResponse(map[string]any{"detectors": names})
}

func (i *Instrument) setBeamCurrent(args map[string]any) route.Response {
	value := floatArg(args, "value", 0)
	i.mu.Lock()
	i.beamCurrentPa = value
	i.mu.Unlock()
	return route.StatusResponse("Beam current set to %g pA.", value)
}

func (i *Instrument) calibrateScreenCurrent(map[string]any) route.Response {
	i.mu.Lock()
	i.screenCurrent = 100.0
	current := i.screenCurrent
	i.mu.Unlock()
	return route.StatusResponse("Screen current calibrated to %g pA.", current)
}

func (i *Instrument) setScreenCurrent(args map[string]any) route.Response {
	value := floatArg(args, "value", 0)
	i.mu.Lock()
	i.screenCurrent = value
	i.mu.Unlock()
	return route.StatusResponse("Screen current set to %g pA.", value)
}

func (i *Instrument) getAtomCount(map[string]any) route.Response {
	i.mu.Lock()
	count := i.atomCount
	i.mu.Unlock()
	return route.StatusResponse("Current atom count: %d", count)
}

func (i *Instrument) placeBeam(args map[string]any) route.Response {
	x := floatArg(args, "x", 0)
	y := floatArg(args, "y", 0)
	return route.StatusResponse("Beam placed at (%g, %g).", x, y)
}

func (i *Instrument) blankBeam(map[string]any) route.Response {
	i.mu.Lock()
	i.blanked = true
	i.mu.Unlock()
	return route.StatusResponse("Beam blanked.")
}

func (i *Instrument) unblankBeam(map[string]any) route.Response {
	i.mu.Lock()
	i.blanked = false
	i.mu.Unlock()
	return route.StatusResponse("Beam unblanked.")
}

func (i *Instrument) setColumnValve(args map[string]any) route.Response {
	state := stringArg(args, "state", "")
	if state != "Open" && state != "Closed" {
		return route.ErrorResponse("column valve state must be Open or Closed, got %q", state)
	}
	i.mu.Lock()
	i.columnValve = state
	i.mu.Unlock()
	return route.StatusResponse("Column valve %s.", strings.ToLower(state))
}

func (i *Instrument) setOpticsMode(args map[string]any) route.Response {
	mode := stringArg(args, "mode", "")
	if mode == "" {
		return route.ErrorResponse("set_optics_mode wants a mode")
	}
	i.mu.Lock()
	i.opticsMode = mode
	i.mu.Unlock()
	return route.StatusResponse("Optics mode set to %s.", mode)
}

func (i *Instrument) tuneC1A1(map[string]any) route.Response {
	return route.StatusResponse("C1/A1 tuning complete. Defocus 1.2 nm, A1 0.8 nm.")
}

func (i *Instrument) discoverCommands(map[string]any) route.Response {
	return route.StatusResponse("%s", strings.Join(i.Commands(), ", "))
}

func (i *Instrument) closeServer(map[string]any) route.Response {
	i.mu.Lock()
	i.initialized = false
	i.mu.Unlock()
	return route.StatusResponse("AS server connection closed.")
}
