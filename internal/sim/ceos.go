package sim

import (
	"sort"
	"strings"
	"sync"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/route"
)

// Ceos is the simulated aberration corrector. Tableau acquisition returns
// a fixed coefficient set; tuning trims the first-order terms the way the
// real corrector converges toward zero.
type Ceos struct {
	mu    sync.Mutex
	tuned bool

	ops map[string]func(args map[string]any) route.Response
}

// NewCeos returns an untuned corrector module.
func NewCeos() *Ceos {
	c := &Ceos{}
	c.ops = map[string]func(map[string]any) route.Response{
		"get_info":          c.getInfo,
		"tune_C1A1":         c.tuneC1A1,
		"acquire_tableau":   c.acquireTableau,
		"discover_commands": c.discoverCommands,
	}
	return c
}

// Handle dispatches one wire command.
func (c *Ceos) Handle(req route.Request) route.Response {
	op, ok := c.ops[req.Command]
	if !ok {
		return route.ErrorResponse("Unknown command: %s", req.Command)
	}
	return op(req.Args)
}

// Commands returns the sorted command catalogue.
func (c *Ceos) Commands() []string {
	names := make([]string, 0, len(c.ops))
	for name := range c.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Ceos) getInfo(map[string]any) route.Response {
	return route.StatusResponse("CEOS probe corrector online. Firmware 5.2.1.")
}

func (c *Ceos) tuneC1A1(map[string]any) route.Response {
	c.mu.Lock()
	c.tuned = true
	c.mu.Unlock()
	return route.StatusResponse("C1/A1 tuning complete. Defocus 1.2 nm, A1 0.8 nm.")
}

func (c *Ceos) acquireTableau(args map[string]any) route.Response {
	tabType := stringArg(args, "tab_type", "Fast")
	angle := floatArg(args, "angle", 18)

	c.mu.Lock()
	tuned := c.tuned
	c.mu.Unlock()

	// First-order coefficients shrink once tuning has run.
	c10, a1 := -2.4e-9, 1.6e-9
	if tuned {
		c10, a1 = -1.2e-9, 0.8e-9
	}
	return route.StateResponse(map[string]any{
		"tab_type": tabType,
		"angle":    angle,
		"C10":      c10,
		"C12a":     a1,
		"C12b":     -0.4e-9,
		"C21a":     14.0e-9,
		"C21b":     -8.5e-9,
		"C23a":     21.0e-9,
		"C23b":     5.2e-9,
		"C30":      1.1e-6,
	})
}

func (c *Ceos) discoverCommands(map[string]any) route.Response {
	return route.StatusResponse("%s", strings.Join(c.Commands(), ", "))
}
