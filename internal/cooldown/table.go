// Package cooldown tracks mail hosts that recently failed at the transport
// level so that probes can skip them for a while.
package cooldown

import (
	"strings"
	"sync"
	"time"
)

// State is the cooldown record of one host.
type State struct {
	Host   string
	Until  time.Time
	Reason string
}

// Remaining returns how long the cooldown still lasts at now.
func (s State) Remaining(now time.Time) time.Duration {
	if d := s.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Table is a thread-safe per-host cooldown table.
// Expired entries are dropped lazily when they are next looked at.
type Table struct {
	mu    sync.Mutex
	hosts map[string]State
	now   func() time.Time
}

// New creates an empty table using the wall clock.
func New() *Table {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty table with a custom clock (for testing).
func NewWithClock(now func() time.Time) *Table {
	return &Table{
		hosts: make(map[string]State),
		now:   now,
	}
}

// Mark puts host in cooldown for d. A non-positive d is a no-op.
// A later Mark overwrites an earlier one.
func (t *Table) Mark(host, reason string, d time.Duration) {
	if d <= 0 {
		return
	}
	k := key(host)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.hosts[k] = State{Host: k, Until: t.now().Add(d), Reason: reason}
}

// Active returns the cooldown of host if it has not elapsed yet.
func (t *Table) Active(host string) (State, bool) {
	k := key(host)

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.hosts[k]
	if !ok {
		return State{}, false
	}
	if !t.now().Before(s.Until) {
		delete(t.hosts, k)
		return State{}, false
	}
	return s, true
}

// Now returns the table's current time.
func (t *Table) Now() time.Time {
	return t.now()
}

// Len returns the number of tracked hosts, expired or not (for diagnostics).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hosts)
}

func key(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
