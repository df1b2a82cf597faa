package route

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// fakeCentral is a minimal central server: one JSON request per line in,
// one tagged reply out, with every request recorded.
type fakeCentral struct {
	ln net.Listener

	mu   sync.Mutex
	reqs []Request
}

func newFakeCentral(t *testing.T, handler func(Request) Response) *fakeCentral {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fc := &fakeCentral{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fc.serve(conn, handler)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return fc
}

func (fc *fakeCentral) serve(conn net.Conn, handler func(Request) Response) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		fc.mu.Lock()
		fc.reqs = append(fc.reqs, req)
		fc.mu.Unlock()
		if err := enc.Encode(handler(req)); err != nil {
			return
		}
	}
}

func (fc *fakeCentral) port() int {
	return fc.ln.Addr().(*net.TCPAddr).Port
}

func (fc *fakeCentral) requests() []Request {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]Request, len(fc.reqs))
	copy(out, fc.reqs)
	return out
}

func okHandler(req Request) Response {
	switch req.Command {
	case "set_routing_table":
		return StatusResponse("Routing table set.")
	case "initialize":
		return StatusResponse("AS client initialized for %v:%v.", req.Args["host"], req.Args["port"])
	case "ping":
		return StatusResponse("pong")
	case "get_state":
		return StateResponse(map[string]any{"vacuum": "Ready"})
	case "get_image":
		return ImageResponse(&ImagePayload{Rows: 2, Cols: 2, Dtype: "uint16", Data: []float64{1, 2, 3, 4}})
	default:
		return ErrorResponse("Unknown command: %s", req.Command)
	}
}

func testConfig(port int) *config.Config {
	return &config.Config{
		ServerHost:        "127.0.0.1",
		ServerPort:        port,
		InstrumentHost:    "127.0.0.1",
		InstrumentPort:    9001,
		CommandTimeoutSec: 5,
		ConnectGraceMs:    1,
	}
}

func testTable() map[domain.ModuleName]HostPort {
	return map[domain.ModuleName]HostPort{
		domain.ModuleAS:   {Host: "127.0.0.1", Port: 9001},
		domain.ModuleCeos: {Host: "127.0.0.1", Port: 9002},
	}
}

func connectedClient(t *testing.T, fc *fakeCentral) *Client {
	t.Helper()

	c := NewClient(testConfig(fc.port()))
	if _, err := c.Connect(context.Background(), "", 0, testTable()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func TestClient_ConnectPushesRoutingThenInit(t *testing.T) {
	fc := newFakeCentral(t, okHandler)
	c := NewClient(testConfig(fc.port()))

	summary, err := c.Connect(context.Background(), "", 0, testTable())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if !c.Connected() {
		t.Fatal("client should be connected after Connect")
	}
	if !strings.Contains(summary, "Routing table set.") {
		t.Errorf("summary missing routing reply: %q", summary)
	}
	if !strings.Contains(summary, "AS client initialized") {
		t.Errorf("summary missing init reply: %q", summary)
	}

	reqs := fc.requests()
	if len(reqs) != 2 {
		t.Fatalf("want 2 setup requests, got %d", len(reqs))
	}
	if reqs[0].Command != "set_routing_table" || reqs[0].Dest != domain.ModuleCentral {
		t.Errorf("first request = %+v, want set_routing_table to central", reqs[0])
	}
	table, ok := reqs[0].Args["table"].(map[string]any)
	if !ok {
		t.Fatalf("routing table arg missing: %+v", reqs[0].Args)
	}
	if _, ok := table[string(domain.ModuleAS)]; !ok {
		t.Errorf("routing table missing AS entry: %v", table)
	}
	if _, ok := table[string(domain.ModuleCeos)]; !ok {
		t.Errorf("routing table missing Ceos entry: %v", table)
	}
	if reqs[1].Command != "initialize" || reqs[1].Dest != domain.ModuleAS {
		t.Errorf("second request = %+v, want initialize to as", reqs[1])
	}
}

func TestClient_ConnectDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient(testConfig(port))
	if _, err := c.Connect(context.Background(), "", 0, testTable()); err == nil {
		t.Fatal("Connect to closed port should fail")
	}
	if c.Connected() {
		t.Error("client must not report connected after dial failure")
	}
}

func TestClient_ConnectRoutingRejected(t *testing.T) {
	fc := newFakeCentral(t, func(req Request) Response {
		if req.Command == "set_routing_table" {
			return ErrorResponse("routing table rejected")
		}
		return okHandler(req)
	})

	c := NewClient(testConfig(fc.port()))
	_, err := c.Connect(context.Background(), "", 0, testTable())
	if err == nil {
		t.Fatal("Connect should fail when routing is rejected")
	}
	engErr, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("expected *domain.EngineError, got %T", err)
	}
	if engErr.Code != domain.ErrRoutingRejected.Code {
		t.Errorf("expected code %d, got %d", domain.ErrRoutingRejected.Code, engErr.Code)
	}
	if c.Connected() {
		t.Error("failed connect must tear the session down")
	}
}

func TestClient_ConnectInitRejected(t *testing.T) {
	fc := newFakeCentral(t, func(req Request) Response {
		if req.Command == "initialize" {
			return StatusResponse("ERROR: instrument unreachable")
		}
		return okHandler(req)
	})

	c := NewClient(testConfig(fc.port()))
	_, err := c.Connect(context.Background(), "", 0, testTable())
	if err == nil {
		t.Fatal("Connect should fail when init reply carries an error marker")
	}
	engErr, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("expected *domain.EngineError, got %T", err)
	}
	if engErr.Code != domain.ErrInitRejected.Code {
		t.Errorf("expected code %d, got %d", domain.ErrInitRejected.Code, engErr.Code)
	}
	if c.Connected() {
		t.Error("failed connect must tear the session down")
	}
}

func TestClient_ReconnectReplacesSession(t *testing.T) {
	fc := newFakeCentral(t, okHandler)
	c := connectedClient(t, fc)

	if _, err := c.Connect(context.Background(), "", 0, testTable()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	resp, err := c.SendCommand(context.Background(), domain.ModuleCentral, "ping", nil)
	if err != nil {
		t.Fatalf("SendCommand after reconnect: %v", err)
	}
	if resp.Text() != "pong" {
		t.Errorf("reply = %q, want pong", resp.Text())
	}
}

// ---------------------------------------------------------------------------
// SendCommand
// ---------------------------------------------------------------------------

func TestClient_SendCommandNotConnected(t *testing.T) {
	c := NewClient(testConfig(9000))
	_, err := c.SendCommand(context.Background(), domain.ModuleAS, "ping", nil)
	engErr, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("expected *domain.EngineError, got %T", err)
	}
	if engErr.Code != domain.ErrNotConnected.Code {
		t.Errorf("expected code %d, got %d", domain.ErrNotConnected.Code, engErr.Code)
	}
}

func TestClient_SendCommandRoundTrip(t *testing.T) {
	fc := newFakeCentral(t, okHandler)
	c := connectedClient(t, fc)
	ctx := context.Background()

	status, err := c.SendCommand(ctx, domain.ModuleCentral, "ping", nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if status.Kind != KindStatus || status.Text() != "pong" {
		t.Errorf("status reply = %+v", status)
	}

	state, err := c.SendCommand(ctx, domain.ModuleAS, "get_state", nil)
	if err != nil {
		t.Fatalf("get_state: %v", err)
	}
	if state.Kind != KindState || state.State["vacuum"] != "Ready" {
		t.Errorf("state reply = %+v", state)
	}

	img, err := c.SendCommand(ctx, domain.ModuleAS, "get_image", nil)
	if err != nil {
		t.Fatalf("get_image: %v", err)
	}
	arr, err := img.Array()
	if err != nil {
		t.Fatalf("Array: %v", err)
	}
	if arr.Shape[0] != 2 || arr.Shape[1] != 2 || arr.Dtype != "uint16" {
		t.Errorf("array = %+v", arr)
	}
}

func TestClient_SendCommandTimeout(t *testing.T) {
	fc := newFakeCentral(t, func(req Request) Response {
		if req.Command == "stall" {
			time.Sleep(500 * time.Millisecond)
		}
		return okHandler(req)
	})
	c := connectedClient(t, fc)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.SendCommand(ctx, domain.ModuleAS, "stall", nil)
	engErr, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("expected *domain.EngineError, got %T", err)
	}
	if engErr.Code != domain.ErrCommandTimeout.Code {
		t.Errorf("expected code %d, got %d", domain.ErrCommandTimeout.Code, engErr.Code)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	fc := newFakeCentral(t, okHandler)
	c := connectedClient(t, fc)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Connected() {
		t.Error("client should not report connected after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Wire helpers
// ---------------------------------------------------------------------------

func TestResponse_IsError(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want bool
	}{
		{"error kind", ErrorResponse("boom"), true},
		{"status with marker", StatusResponse("ERROR: Tool x not found."), true},
		{"plain status", StatusResponse("all good"), false},
		{"state", StateResponse(map[string]any{"a": 1}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.IsError(); got != tt.want {
				t.Errorf("IsError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorResponse_AddsMarker(t *testing.T) {
	r := ErrorResponse("stage jammed")
	if !strings.HasPrefix(r.Error, "ERROR: ") {
		t.Errorf("error text = %q, want ERROR prefix", r.Error)
	}
	r = ErrorResponse("ERROR executing foo: bar")
	if strings.Count(r.Error, "ERROR") != 1 {
		t.Errorf("marker duplicated: %q", r.Error)
	}
}

func TestResponse_ArrayOnNonImage(t *testing.T) {
	if _, err := StatusResponse("ok").Array(); err == nil {
		t.Error("Array on status reply should fail")
	}
}
