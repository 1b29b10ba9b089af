// Package killswitch implements the process-wide kill-switch and the
// per-backend error-budget observer that can trip it automatically
// (spec §4.4).
package killswitch

import (
	"sync"
	"time"
)

// Switch is the operator-controlled set of disabled backend names, process
// wide. The zero value is not usable; construct with New.
type Switch struct {
	mu      sync.RWMutex
	killed  map[string]struct{}
	budgets map[string]*budget
}

// New constructs an empty kill-switch.
func New() *Switch {
	return &Switch{killed: make(map[string]struct{}), budgets: make(map[string]*budget)}
}

// Kill adds name to the kill-set.
func (s *Switch) Kill(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed[name] = struct{}{}
}

// Revive removes name from the kill-set and clears its error budget
// (spec §4.4: "operators can explicitly revive a backend ... which removes
// it from the set and clears the budget").
func (s *Switch) Revive(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.killed, name)
	if b, ok := s.budgets[name]; ok {
		b.reset()
	}
}

// IsKilled reports whether name is currently in the kill-set.
func (s *Switch) IsKilled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.killed[name]
	return ok
}

// Names returns a snapshot of the currently killed backend names.
func (s *Switch) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.killed))
	for n := range s.killed {
		out = append(out, n)
	}
	return out
}

// BudgetConfig parameterizes the windowed failure-rate observer.
type BudgetConfig struct {
	Window    time.Duration
	Threshold float64 // failure rate in [0,1] that trips the kill-switch
	MinSample int      // minimum observations before the rate is trusted
}

// DefaultBudgetConfig mirrors common production defaults: a 1-minute
// sliding window, 50% failure rate, minimum 10 samples.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{Window: time.Minute, Threshold: 0.5, MinSample: 10}
}

type sample struct {
	at      time.Time
	success bool
}

type budget struct {
	mu      sync.Mutex
	cfg     BudgetConfig
	samples []sample
}

func newBudget(cfg BudgetConfig) *budget {
	return &budget{cfg: cfg}
}

func (b *budget) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}

// record appends a sample, evicts stale ones outside the window, and
// reports whether the current failure rate crosses the configured
// threshold.
func (b *budget) record(success bool) (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.samples = append(b.samples, sample{at: now, success: success})
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	b.samples = b.samples[i:]

	if len(b.samples) < b.cfg.MinSample {
		return false
	}
	failures := 0
	for _, s := range b.samples {
		if !s.success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(b.samples))
	return rate >= b.cfg.Threshold
}

// ErrorBudget attaches a per-backend windowed failure-rate observer to the
// switch. onTrip is invoked when a backend is automatically killed, so
// callers can emit an operator-visible event (spec §4.4).
type ErrorBudget struct {
	sw     *Switch
	cfg    BudgetConfig
	onTrip func(backend string)
}

// NewErrorBudget constructs an ErrorBudget bound to sw. onTrip may be nil.
func NewErrorBudget(sw *Switch, cfg BudgetConfig, onTrip func(backend string)) *ErrorBudget {
	return &ErrorBudget{sw: sw, cfg: cfg, onTrip: onTrip}
}

// Record notes the outcome of one call to backend and trips the kill-switch
// automatically if the rolling failure rate crosses the threshold.
func (eb *ErrorBudget) Record(backend string, success bool) {
	eb.sw.mu.Lock()
	b, ok := eb.sw.budgets[backend]
	if !ok {
		b = newBudget(eb.cfg)
		eb.sw.budgets[backend] = b
	}
	eb.sw.mu.Unlock()

	if b.record(success) && !eb.sw.IsKilled(backend) {
		eb.sw.Kill(backend)
		if eb.onTrip != nil {
			eb.onTrip(backend)
		}
	}
}
