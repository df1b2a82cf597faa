package route

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// HostPort is one routing table entry: where the central server should
// forward traffic for a logical destination.
type HostPort struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client is the single long-lived routed connection to the central server.
// All facade operations funnel through SendCommand; one command is in
// flight at a time.
type Client struct {
	cfg *config.Config

	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// NewClient returns a disconnected client. Connect establishes the session.
func NewClient(cfg *config.Config) *Client {
	return &Client{cfg: cfg}
}

// Connect waits the configured grace period, dials the central server,
// pushes the routing table for every known destination, and initializes
// the AS destination against the configured instrument endpoint. An
// error-marked reply at any step tears the session down. On success it
// returns a summary embedding both server responses.
//
// Empty host or zero port fall back to the configured central endpoint.
// Connecting over a live session closes the previous connection first.
func (c *Client) Connect(ctx context.Context, host string, port int, table map[domain.ModuleName]HostPort) (string, error) {
	if host == "" {
		host = c.cfg.ServerHost
	}
	if port == 0 {
		port = c.cfg.ServerPort
	}

	if grace := c.cfg.ConnectGrace(); grace > 0 {
		select {
		case <-time.After(grace):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.cfg.CommandTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrTransportFailure.Code, fmt.Sprintf("dial central server at %s", addr), err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.enc = json.NewEncoder(conn)
	c.dec = json.NewDecoder(conn)
	c.mu.Unlock()

	wireTable := make(map[string]HostPort, len(table))
	for name, hp := range table {
		wireTable[string(name)] = hp
	}
	routeResp, err := c.SendCommand(ctx, domain.ModuleCentral, "set_routing_table", map[string]any{"table": wireTable})
	if err != nil {
		c.Close()
		return "", err
	}
	if routeResp.IsError() {
		c.Close()
		return "", domain.NewEngineError(domain.ErrRoutingRejected.Code, routeResp.Text())
	}

	initResp, err := c.SendCommand(ctx, domain.ModuleAS, "initialize", map[string]any{
		"host": c.cfg.InstrumentHost,
		"port": c.cfg.InstrumentPort,
	})
	if err != nil {
		c.Close()
		return "", err
	}
	if initResp.IsError() {
		c.Close()
		return "", domain.NewEngineError(domain.ErrInitRejected.Code, initResp.Text())
	}

	return fmt.Sprintf("Connected to central server at %s. %s %s", addr, routeResp.Text(), initResp.Text()), nil
}

// SendCommand issues one request and decodes the tagged reply. The call
// deadline is the sooner of the configured command timeout and the
// context deadline.
func (c *Client) SendCommand(ctx context.Context, dest domain.ModuleName, command string, args map[string]any) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return Response{}, domain.ErrNotConnected
	}

	deadline := time.Now().Add(c.cfg.CommandTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Response{}, domain.WrapEngineError(domain.ErrTransportFailure.Code, "set command deadline", err)
	}

	req := Request{Dest: dest, Command: command, Args: args}
	if err := c.enc.Encode(req); err != nil {
		return Response{}, domain.WrapEngineError(domain.ErrTransportFailure.Code, fmt.Sprintf("send %s to %s", command, dest), err)
	}

	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Response{}, domain.WrapEngineError(domain.ErrCommandTimeout.Code, fmt.Sprintf("%s to %s", command, dest), err)
		}
		return Response{}, domain.WrapEngineError(domain.ErrTransportFailure.Code, fmt.Sprintf("read reply for %s from %s", command, dest), err)
	}
	return resp, nil
}

// Connected reports whether a session is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears down the session. Closing a disconnected client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.enc = nil
	c.dec = nil
	return err
}
