// Package health implements liveness and readiness probes for the API
// server, following the Kubernetes probe model.
//
// Probes are evaluated on a timer in the background rather than on every
// HTTP hit, so a slow dependency (a Postgres ping, say) cannot stall the
// probe endpoints. Each probe keeps consecutive-failure and
// consecutive-success counters and only flips state once a threshold is
// crossed, which keeps a single dropped packet from bouncing the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes a single dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type probeKind int

const (
	liveness probeKind = iota
	readiness
)

// Defaults mirror the kubelet's: three strikes to go unhealthy, one
// success to come back.
const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// probe is one registered check plus its evaluation state. The streak
// counters are touched only by the single evaluation goroutine; healthy
// and lastErr are also read by the HTTP endpoints, so those two are
// atomic.
type probe struct {
	name    string
	kind    probeKind
	timeout time.Duration
	check   CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	failStreak int
	okStreak   int
}

func (p *probe) evaluate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.okStreak = 0
		if p.failStreak++; p.failStreak >= defaultFailureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.failStreak = 0
	if p.okStreak++; p.okStreak >= defaultSuccessThreshold {
		p.healthy.Store(true)
	}
}

func (p *probe) failureMessage() string {
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error()
	}
	return "check is unhealthy"
}

// Health tracks all registered probes and the manual readiness gate.
type Health struct {
	ready atomic.Bool

	// mu guards probes and cancel. Registration happens before Start;
	// the endpoints take a read lock only long enough to snapshot the
	// slice.
	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New returns a Health with no probes registered. The readiness gate
// starts closed; call SetReady(true) once startup has finished.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe answering "is this process stuck".
// Goroutine counts and GC pauses belong here; dependency reachability
// does not, or a database outage would get the pod restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(name, liveness, timeout, check)
}

// AddReadinessCheck registers a probe answering "can this process serve
// traffic right now", e.g. a database ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(name, readiness, timeout, check)
}

func (h *Health) add(name string, kind probeKind, timeout time.Duration, check CheckFunc) {
	p := &probe{
		name:    name,
		kind:    kind,
		timeout: timeout,
		check:   check,
	}
	// Optimistic start: a probe that has never run reports healthy.
	p.healthy.Store(true)

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

// Start launches one evaluation goroutine per registered probe, each
// firing at the given interval. Register all probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.evaluate(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.evaluate(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels the evaluation goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady opens or closes the manual readiness gate. Graceful shutdown
// closes it first so the load balancer drains the pod before the
// listener goes away.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness probe is
// passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(readiness) {
		if !p.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(kind probeKind) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*probe, 0, len(h.probes))
	for _, p := range h.probes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// statusResponse is the body served by both probe endpoints.
type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while all liveness probes pass, 503
// with the failing probe names otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serveStatus(w, h.failures(liveness))
}

// ReadyEndpoint serves /readyz. It reports 503 until SetReady(true) has
// been called, and again whenever a readiness probe is failing.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	h.serveStatus(w, failures)
}

func (h *Health) failures(kind probeKind) map[string]string {
	failures := make(map[string]string)
	for _, p := range h.snapshot(kind) {
		if !p.healthy.Load() {
			failures[p.name] = p.failureMessage()
		}
	}
	return failures
}

func (h *Health) serveStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
