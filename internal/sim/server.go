// Package sim implements the simulated instrument backends: a central
// routing server plus the AS instrument and aberration-corrector modules,
// all speaking the JSON-line wire protocol. The temserver binary runs one
// module per process; tests run them in-process on ephemeral ports.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/route"
)

// Handler answers one wire request. Implementations are safe for
// concurrent use; the server invokes them from per-connection goroutines.
type Handler interface {
	Handle(req route.Request) route.Response
}

// NewModule constructs the handler for a named backend module.
func NewModule(name domain.ModuleName) (Handler, error) {
	switch name {
	case domain.ModuleCentral:
		return NewCentral(), nil
	case domain.ModuleAS:
		return NewInstrument(), nil
	case domain.ModuleCeos:
		return NewCeos(), nil
	default:
		return nil, domain.NewEngineError(domain.ErrUnknownModule.Code, fmt.Sprintf("no simulated module named %q", name))
	}
}

// Server serves one module handler over TCP, one JSON request per line in,
// one tagged reply out.
type Server struct {
	module  domain.ModuleName
	handler Handler
	logger  *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewServer wraps a handler for serving. A nil logger discards logs.
func NewServer(module domain.ModuleName, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{module: module, handler: handler, logger: logger}
}

// Listen binds the address and returns the bound port. Port 0 picks an
// ephemeral port.
func (s *Server) Listen(host string, port int) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return 0, fmt.Errorf("bind %s server: %w", s.module, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts connections until the listener closes. Call Listen first.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%s server not listening", s.module)
	}

	s.logger.Info("module serving",
		slog.String("module", string(s.module)), slog.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Debug("accept failed", slog.String("module", string(s.module)), slog.Any("error", err))
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Info("client connected", slog.String("module", string(s.module)), slog.String("remote", remote))

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req route.Request
		if err := dec.Decode(&req); err != nil {
			s.logger.Info("client disconnected", slog.String("module", string(s.module)), slog.String("remote", remote))
			return
		}

		resp := s.handler.Handle(req)
		s.logger.Debug("command handled",
			slog.String("module", string(s.module)), slog.String("dest", string(req.Dest)),
			slog.String("command", req.Command), slog.String("kind", string(resp.Kind)))

		if err := enc.Encode(resp); err != nil {
			s.logger.Debug("reply failed", slog.String("module", string(s.module)), slog.Any("error", err))
			return
		}
	}
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Close stops accepting. In-flight connections run to completion.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}
