// Package backend supervises the instrument server processes: descriptor
// resolution, spawning with an instrument-library environment, readiness
// barriers and teardown.
package backend

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/route"
)

// DefaultModules is the full backend set brought up when no explicit list
// is given: the central router, the AS instrument server and the
// aberration corrector.
func DefaultModules() []domain.ModuleName {
	return []domain.ModuleName{domain.ModuleCentral, domain.ModuleAS, domain.ModuleCeos}
}

// Descriptors builds the fixed backend set from configuration. The module
// names are compile-time constants; hosts, ports and launch commands are
// the only configurable parts. Mock mode resolves every module to the
// temserver binary; real mode launches the hardware bridge scripts shipped
// with the AutoScript installation.
func Descriptors(cfg *config.Config) map[domain.ModuleName]domain.ServerDescriptor {
	mock := func(name domain.ModuleName, host string, port int) []string {
		return []string{
			cfg.TemserverPath,
			"--module", strings.ToLower(string(name)),
			"--host", host,
			"--port", strconv.Itoa(port),
		}
	}
	real := func(name domain.ModuleName, host string, port int) []string {
		script := filepath.Join(cfg.AutoscriptPath, "servers", strings.ToLower(string(name))+"_server.py")
		return []string{
			"python3", script,
			"--host", host,
			"--port", strconv.Itoa(port),
		}
	}

	return map[domain.ModuleName]domain.ServerDescriptor{
		domain.ModuleCentral: {
			Name:        domain.ModuleCentral,
			Host:        cfg.ServerHost,
			Port:        cfg.ServerPort,
			RealCommand: real(domain.ModuleCentral, cfg.ServerHost, cfg.ServerPort),
			MockCommand: mock(domain.ModuleCentral, cfg.ServerHost, cfg.ServerPort),
		},
		domain.ModuleAS: {
			Name:        domain.ModuleAS,
			Host:        cfg.InstrumentHost,
			Port:        cfg.InstrumentPort,
			RealCommand: real(domain.ModuleAS, cfg.InstrumentHost, cfg.InstrumentPort),
			MockCommand: mock(domain.ModuleAS, cfg.InstrumentHost, cfg.InstrumentPort),
		},
		domain.ModuleCeos: {
			Name:        domain.ModuleCeos,
			Host:        cfg.ServerHost,
			Port:        cfg.CeosPort,
			RealCommand: real(domain.ModuleCeos, cfg.ServerHost, cfg.CeosPort),
			MockCommand: mock(domain.ModuleCeos, cfg.ServerHost, cfg.CeosPort),
		},
	}
}

// RoutingTable maps every non-central descriptor to its endpoint, in the
// shape the central server's set_routing_table command expects.
func RoutingTable(descriptors map[domain.ModuleName]domain.ServerDescriptor) map[domain.ModuleName]route.HostPort {
	table := make(map[domain.ModuleName]route.HostPort, len(descriptors))
	for name, desc := range descriptors {
		if name == domain.ModuleCentral {
			continue
		}
		table[name] = route.HostPort{Host: desc.Host, Port: desc.Port}
	}
	return table
}
