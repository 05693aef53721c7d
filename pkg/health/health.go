// Package health implements Kubernetes-style liveness and readiness probes.
//
// Checks are driven by a single background goroutine per probe and use
// consecutive-failure thresholds so a transient blip does not flip the
// probe. Readiness additionally gates on an explicit Ready flag that the
// application sets after startup and clears during shutdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes a single component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailAfter = 3
	defaultOKAfter   = 1
)

// check is the runtime state of one registered check.
//
// run is only ever called from the probe goroutine, so the consecutive
// counters need no locking. healthy and lastErr are read from HTTP
// handlers and use atomics.
type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (c *check) run(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.fn(cctx)
	cancel()

	c.lastErr.Store(&err)
	if err != nil {
		c.oks = 0
		if c.fails++; c.fails >= defaultFailAfter {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	if c.oks++; c.oks >= defaultOKAfter {
		c.healthy.Store(true)
	}
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is failing", true
}

// Health tracks liveness and readiness checks for the service.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	live   []*check
	readyc []*check
	cancel context.CancelFunc
}

// New returns a Health with no checks registered and Ready unset.
func New() *Health {
	return &Health{}
}

func newCheck(name string, timeout time.Duration, fn CheckFunc) *check {
	c := &check{name: name, timeout: timeout, fn: fn}
	// Start healthy so a probe cannot report down before its first run.
	c.healthy.Store(true)
	return c
}

// AddLiveness registers a liveness check. Liveness failures signal that the
// process itself is wedged and should be restarted.
func (h *Health) AddLiveness(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newCheck(name, timeout, fn))
}

// AddReadiness registers a readiness check. Readiness failures take the
// service out of rotation without restarting it.
func (h *Health) AddReadiness(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readyc = append(h.readyc, newCheck(name, timeout, fn))
}

// Start launches the probe loops. Register all checks before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	live, readyc := h.live, h.readyc
	h.mu.Unlock()

	go loop(ctx, live, interval)
	go loop(ctx, readyc, interval)
}

func loop(ctx context.Context, checks []*check, interval time.Duration) {
	if len(checks) == 0 {
		return
	}
	run := func() {
		for _, c := range checks {
			c.run(ctx)
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// Stop cancels the probe loops. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Set it once startup finishes
// and clear it at the beginning of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is set and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	checks := h.readyc
	h.mu.RUnlock()
	for _, c := range checks {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

type probeResponse struct {
	Status   string            `json:"status"`
	Failures map[string]string `json:"failures,omitempty"`
}

// ServeLive handles the /livez endpoint. 200 when every liveness check
// passes, 503 with per-check messages otherwise.
func (h *Health) ServeLive(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	checks := h.live
	h.mu.RUnlock()

	writeProbe(w, failures(checks))
}

// ServeReady handles the /readyz endpoint. 200 only when the manual gate is
// set and every readiness check passes.
func (h *Health) ServeReady(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	checks := h.readyc
	h.mu.RUnlock()

	fails := failures(checks)
	if !h.ready.Load() {
		fails["startup"] = "service is not ready"
	}
	writeProbe(w, fails)
}

func failures(checks []*check) map[string]string {
	fails := make(map[string]string)
	for _, c := range checks {
		if msg, down := c.failure(); down {
			fails[c.name] = msg
		}
	}
	return fails
}

func writeProbe(w http.ResponseWriter, fails map[string]string) {
	resp := probeResponse{Status: "up"}
	code := http.StatusOK
	if len(fails) > 0 {
		resp = probeResponse{Status: "down", Failures: fails}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
