// Package breaker implements a per-downstream-service circuit breaker used by
// the API gateway to stop forwarding traffic to a failing service and to probe
// its recovery automatically.
//
// One Registry holds the state of every downstream. The gateway asks
// Allow(service) before dialing and feeds every call outcome back through
// Report(service, success). The Registry is an explicit dependency constructed
// at startup and injected into the proxy layer; there is no package-level
// singleton.
//
// State machine per service:
//
//	Closed    calls pass through; outcomes update a rolling failure
//	          percentage. When failures/total >= FailureThreshold within the
//	          window (and at least MinRequests outcomes were seen), the
//	          breaker trips to Open.
//	Open      every call is rejected without touching the network. After
//	          ResetTimeout the next Allow admits a single trial (HalfOpen).
//	HalfOpen  exactly one trial call is in flight. Success closes the
//	          breaker and resets counters; failure reopens it and restarts
//	          the timer.
//
// Allow never blocks and transitions never return errors; they are observable
// through zerolog and the prometheus gauges in metrics.go.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State identifies the breaker position for one downstream service.
type State int

const (
	// Closed admits all calls. Initial state.
	Closed State = iota
	// Open rejects all calls until the reset timeout elapses.
	Open
	// HalfOpen admits a single trial call.
	HalfOpen
)

// String returns the conventional lowercase name of the state.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Options tunes breaker behavior. The zero value is not usable; use
// DefaultOptions or fill every field.
type Options struct {
	// FailureThreshold trips the breaker when failures/total >= threshold.
	FailureThreshold float64
	// Window is the rolling interval over which outcomes are counted.
	// Counters reset when a report arrives after the window elapsed.
	Window time.Duration
	// ResetTimeout is how long an Open breaker waits before probing.
	ResetTimeout time.Duration
	// MinRequests is the minimum number of outcomes in the window before the
	// breaker may trip. The original gateway tripped on the first server
	// error, so the default keeps that behavior.
	MinRequests int
}

// DefaultOptions mirrors the production gateway defaults: 50% failure rate
// over a 10s window, 10s reset timeout, trip from the first outcome on.
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 0.5,
		Window:           10 * time.Second,
		ResetTimeout:     10 * time.Second,
		MinRequests:      1,
	}
}

// entry is the mutable per-service breaker state. All fields are guarded by mu.
type entry struct {
	mu sync.Mutex

	state        State
	failureCount int
	totalCount   int
	windowStart  time.Time
	// openedUntil is when an Open breaker may admit its trial call.
	openedUntil time.Time
	// trialInFlight marks that the single HalfOpen probe has been admitted
	// and not yet reported.
	trialInFlight   bool
	lastStateChange time.Time
}

// Registry tracks one breaker entry per downstream service name. Safe for
// concurrent use; per-service updates are logically atomic.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	entries map[string]*entry

	// now is a clock seam for tests.
	now func() time.Time
}

// NewRegistry constructs a Registry with the given options. Unset (zero)
// option fields are replaced by their defaults.
func NewRegistry(opts Options) *Registry {
	def := DefaultOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = def.ResetTimeout
	}
	if opts.MinRequests <= 0 {
		opts.MinRequests = def.MinRequests
	}
	return &Registry{
		opts:    opts,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// get returns the entry for service, creating a Closed one on first use.
func (r *Registry) get(service string) *entry {
	r.mu.RLock()
	e, ok := r.entries[service]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[service]; ok {
		return e
	}
	now := r.now()
	e = &entry{state: Closed, windowStart: now, lastStateChange: now}
	r.entries[service] = e
	breakerState.WithLabelValues(service).Set(float64(Closed))
	log.Info().Str("service", service).Msg("circuit breaker created")
	return e
}

// Allow reports whether a call to service may proceed right now. It never
// blocks. An Open breaker whose reset timeout elapsed flips to HalfOpen and
// admits exactly one trial call; concurrent callers during the trial are
// rejected.
func (r *Registry) Allow(service string) bool {
	e := r.get(service)
	now := r.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		return true
	case Open:
		if now.Before(e.openedUntil) {
			return false
		}
		r.transition(service, e, HalfOpen, now)
		e.trialInFlight = true
		return true
	default: // HalfOpen
		if e.trialInFlight {
			return false
		}
		e.trialInFlight = true
		return true
	}
}

// Report feeds one call outcome back into the breaker for service.
// It is safe under interleaved concurrent calls.
func (r *Registry) Report(service string, success bool) {
	e := r.get(service)
	now := r.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case HalfOpen:
		e.trialInFlight = false
		if success {
			r.transition(service, e, Closed, now)
			e.resetCounters(now)
			return
		}
		r.reopen(service, e, now)
		return

	case Open:
		// A straggler from before the trip; the timer is already running.
		return

	default: // Closed
		if now.Sub(e.windowStart) >= r.opts.Window {
			e.resetCounters(now)
		}
		e.totalCount++
		if !success {
			e.failureCount++
		}
		if e.totalCount >= r.opts.MinRequests &&
			float64(e.failureCount)/float64(e.totalCount) >= r.opts.FailureThreshold {
			r.reopen(service, e, now)
		}
	}
}

// Snapshot describes the externally observable state of one breaker.
type Snapshot struct {
	Service         string    `json:"service"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	TotalCount      int       `json:"total_count"`
	LastStateChange time.Time `json:"last_state_change"`
	OpenedUntil     time.Time `json:"opened_until,omitempty"`
}

// Snapshot returns a copy of every breaker's current state, for the gateway's
// diagnostics endpoint.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		e := r.get(name)
		e.mu.Lock()
		s := Snapshot{
			Service:         name,
			State:           e.state.String(),
			FailureCount:    e.failureCount,
			TotalCount:      e.totalCount,
			LastStateChange: e.lastStateChange,
		}
		if e.state == Open {
			s.OpenedUntil = e.openedUntil
		}
		e.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// reopen moves an entry to Open and restarts the reset timer.
// Caller holds e.mu.
func (r *Registry) reopen(service string, e *entry, now time.Time) {
	r.transition(service, e, Open, now)
	e.openedUntil = now.Add(r.opts.ResetTimeout)
	e.trialInFlight = false
}

// transition records a state change with its observable side effects.
// Caller holds e.mu.
func (r *Registry) transition(service string, e *entry, to State, now time.Time) {
	if e.state == to {
		return
	}
	from := e.state
	e.state = to
	e.lastStateChange = now

	breakerState.WithLabelValues(service).Set(float64(to))
	breakerTransitions.WithLabelValues(service, to.String()).Inc()
	log.Warn().
		Str("service", service).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("failures", e.failureCount).
		Int("total", e.totalCount).
		Msg("circuit breaker state change")
}

// resetCounters clears the rolling window. Caller holds e.mu.
func (e *entry) resetCounters(now time.Time) {
	e.failureCount = 0
	e.totalCount = 0
	e.windowStart = now
}
