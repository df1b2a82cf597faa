package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/probe"
)

// StartReport aggregates per-module outcomes of one bring-up. A module
// that was skipped, spawned or failed gets exactly one line.
type StartReport struct {
	Lines    []string
	Failures int
}

func (r *StartReport) add(format string, args ...any) {
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
}

func (r *StartReport) fail(format string, args ...any) {
	r.add(format, args...)
	r.Failures++
}

// OK reports whether every module came up (or was already up).
func (r *StartReport) OK() bool {
	return r.Failures == 0
}

// Text renders the report one module per line.
func (r *StartReport) Text() string {
	return strings.Join(r.Lines, "\n")
}

type trackedProcess struct {
	module domain.ModuleName
	port   int
	pid    int
	cmd    *exec.Cmd
}

// Supervisor spawns and tracks backend server processes keyed by module
// name. One tracked process per module; entries disappear when the child
// exits or CloseServers runs.
type Supervisor struct {
	cfg         *config.Config
	descriptors map[domain.ModuleName]domain.ServerDescriptor

	// How long to wait for a spawned port to accept connections.
	readyTimeout time.Duration

	mu    sync.Mutex
	procs map[domain.ModuleName]*trackedProcess
}

// NewSupervisor creates a supervisor over the given descriptor set.
func NewSupervisor(cfg *config.Config, descriptors map[domain.ModuleName]domain.ServerDescriptor) *Supervisor {
	return &Supervisor{
		cfg:          cfg,
		descriptors:  descriptors,
		readyTimeout: probe.LongTimeout,
		procs:        make(map[domain.ModuleName]*trackedProcess),
	}
}

// StartServers brings up the named modules (the full default set when none
// are named) for the given run mode:
//
//  1. resolve each name against the descriptor table,
//  2. skip modules this supervisor already tracks,
//  3. skip modules whose port already answers (externally managed),
//  4. spawn the rest with the instrument-library environment and
//     discarded stdio,
//  5. block on every newly spawned port until ready or the barrier
//     expires.
//
// Runtime failures (spawn errors, ports that never turn ready) become
// report lines, not errors: already-started siblings stay tracked. The
// only error is an unknown module name, raised before any side effect.
func (s *Supervisor) StartServers(ctx context.Context, mode domain.RunMode, names ...domain.ModuleName) (*StartReport, error) {
	if len(names) == 0 {
		names = DefaultModules()
	}
	for _, name := range names {
		if _, ok := s.descriptors[name]; !ok {
			return nil, domain.NewEngineError(domain.ErrUnknownModule.Code, fmt.Sprintf("no descriptor for module %q", name))
		}
	}

	report := &StartReport{}
	var spawned []domain.ServerDescriptor

	for _, name := range names {
		desc := s.descriptors[name]

		if pid, running := s.trackedPID(name); running {
			report.add("%s: already running (pid %d)", name, pid)
			continue
		}
		if probe.WaitForPort(desc.Host, desc.Port, probe.ShortTimeout) {
			report.add("%s: already listening on port %d", name, desc.Port)
			continue
		}

		argv := desc.Resolve(mode)
		if len(argv) == 0 {
			report.fail("%s: Failed to start: no command for mode %s", name, mode)
			continue
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = s.childEnv()
		if err := cmd.Start(); err != nil {
			report.fail("%s: Failed to start: %v", name, err)
			continue
		}

		proc := &trackedProcess{module: name, port: desc.Port, pid: cmd.Process.Pid, cmd: cmd}
		s.mu.Lock()
		s.procs[name] = proc
		s.mu.Unlock()
		go s.reap(name, cmd)

		report.add("%s: started (pid %d)", name, proc.pid)
		spawned = append(spawned, desc)
	}

	for _, desc := range spawned {
		if !probe.WaitForPort(desc.Host, desc.Port, s.readyTimeout) {
			report.fail("%s: Failed to become ready on port %d within %s", desc.Name, desc.Port, s.readyTimeout)
		}
	}
	return report, nil
}

// CloseServers kills every tracked process and clears the table. It does
// not verify shutdown and has no grace period; callers treat it as a hard
// stop. Safe to call with nothing tracked.
func (s *Supervisor) CloseServers() {
	s.mu.Lock()
	procs := make([]*trackedProcess, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.procs = make(map[domain.ModuleName]*trackedProcess)
	s.mu.Unlock()

	for _, p := range procs {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	}
}

// Running lists tracked processes sorted by module name.
func (s *Supervisor) Running() []domain.RunningProcess {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RunningProcess, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, domain.RunningProcess{Module: p.module, PID: p.pid, Port: p.port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

func (s *Supervisor) trackedPID(name domain.ModuleName) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	if !ok {
		return 0, false
	}
	return p.pid, true
}

// reap owns the child's Wait. Once the process exits, for any reason, its
// entry leaves the table so a later StartServers can respawn it.
func (s *Supervisor) reap(name domain.ModuleName, cmd *exec.Cmd) {
	_ = cmd.Wait()
	s.mu.Lock()
	if cur, ok := s.procs[name]; ok && cur.cmd == cmd {
		delete(s.procs, name)
	}
	s.mu.Unlock()
}

// childEnv augments the inherited environment with the instrument library
// locations the backend scripts need to import their hardware client.
func (s *Supervisor) childEnv() []string {
	pythonPath := s.cfg.AutoscriptPath
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		pythonPath = existing + string(os.PathListSeparator) + pythonPath
	}
	return append(os.Environ(),
		"PYTHONPATH="+pythonPath,
		"AUTOSCRIPT_PATH="+s.cfg.AutoscriptPath,
	)
}
