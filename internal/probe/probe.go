// Package probe polls TCP endpoints for readiness.
package probe

import (
	"net"
	"strconv"
	"time"
)

const (
	// attemptTimeout bounds a single connect attempt.
	attemptTimeout = 1 * time.Second
	// retryBackoff is the pause between failed attempts.
	retryBackoff = 200 * time.Millisecond
)

const (
	// ShortTimeout detects already-listening ports without delaying startup.
	ShortTimeout = 200 * time.Millisecond
	// LongTimeout confirms newly spawned backends became ready.
	LongTimeout = 10 * time.Second
)

// WaitForPort repeatedly attempts a short TCP connect to host:port until one
// succeeds or the overall timeout elapses. It returns true on the first
// successful connect and has no side effect beyond the probe itself.
func WaitForPort(host string, port int, timeout time.Duration) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		per := attemptTimeout
		if remaining := time.Until(deadline); remaining < per {
			per = remaining
		}
		conn, err := net.DialTimeout("tcp", addr, per)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(retryBackoff)
	}
	return false
}
