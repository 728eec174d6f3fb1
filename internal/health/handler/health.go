// Package handler reports service readiness over HTTP and the standard gRPC health protocol.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DefaultCheckTimeout bounds a single readiness probe.
const DefaultCheckTimeout = 2 * time.Second

// Pinger is a dependency that can report its reachability (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker probes the session store. A nil pinger (in-memory mode) is always ready.
type Checker struct {
	pinger  Pinger
	timeout time.Duration
}

// NewChecker returns a Checker over pinger.
func NewChecker(pinger Pinger) *Checker {
	return &Checker{pinger: pinger, timeout: DefaultCheckTimeout}
}

// Check returns nil when the store answers within the probe timeout.
func (c *Checker) Check(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.pinger.PingContext(ctx)
}

type statusResponse struct {
	Status string `json:"status"`
}

// ServeHTTP answers 200 {"status":"ok"} or 503 {"status":"unavailable"}.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := c.Check(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "unavailable"})
		return
	}
	_ = json.NewEncoder(w).Encode(statusResponse{Status: "ok"})
}
