package sim

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/route"
)

const forwardTimeout = 10 * time.Second

// Central is the routing front door. Clients push a routing table once,
// then address every request to a logical destination; central relays
// anything not addressed to itself.
type Central struct {
	mu    sync.Mutex
	table map[string]route.HostPort
}

// NewCentral returns a router with an empty table. Requests to other
// destinations fail until set_routing_table arrives.
func NewCentral() *Central {
	return &Central{table: make(map[string]route.HostPort)}
}

// Handle answers central's own commands and forwards the rest.
func (c *Central) Handle(req route.Request) route.Response {
	if req.Dest != domain.ModuleCentral && req.Dest != "" {
		return c.forward(req)
	}

	switch req.Command {
	case "set_routing_table":
		return c.setRoutingTable(req.Args)
	case "ping":
		return route.StatusResponse("pong")
	case "discover_commands":
		return route.StatusResponse("set_routing_table, ping, discover_commands")
	default:
		return route.ErrorResponse("Unknown command: %s", req.Command)
	}
}

func (c *Central) setRoutingTable(args map[string]any) route.Response {
	raw := mapArg(args, "table")
	if raw == nil {
		return route.ErrorResponse("set_routing_table wants a table mapping")
	}

	table := make(map[string]route.HostPort, len(raw))
	for dest, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return route.ErrorResponse("route for %s is not a host/port mapping", dest)
		}
		host := stringArg(m, "host", "")
		port := intArg(m, "port", 0)
		if host == "" || port == 0 {
			return route.ErrorResponse("route for %s is missing host or port", dest)
		}
		table[dest] = route.HostPort{Host: host, Port: port}
	}

	c.mu.Lock()
	c.table = table
	c.mu.Unlock()
	return route.StatusResponse("Routing table set for %d destinations.", len(table))
}

// forward relays one request to its routed module and returns the reply
// unchanged. Each forward uses a fresh connection; the simulated modules
// are local, so per-request dialing costs next to nothing.
func (c *Central) forward(req route.Request) route.Response {
	c.mu.Lock()
	hp, ok := c.table[string(req.Dest)]
	c.mu.Unlock()
	if !ok {
		return route.ErrorResponse("no route for destination %s", req.Dest)
	}

	addr := net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
	conn, err := net.DialTimeout("tcp", addr, forwardTimeout)
	if err != nil {
		return route.ErrorResponse("dial %s at %s failed: %v", req.Dest, addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(forwardTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return route.ErrorResponse("forward to %s failed: %v", req.Dest, err)
	}
	var resp route.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return route.ErrorResponse("reply from %s failed: %v", req.Dest, err)
	}
	return resp
}
