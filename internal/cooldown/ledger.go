// Package cooldown keeps the command cooldown ledgers: one keyed by
// (user, command) and one global per command. Entries hold the monotonic
// timestamp of the last successful execution.
package cooldown

import (
	"sync"
	"time"

	"github.com/you/streamops/internal/clock"
)

// Ledger tracks command executions against two TTLs. A zero TTL disables
// the corresponding check.
type Ledger struct {
	clock     clock.Clock
	userTTL   time.Duration
	globalTTL time.Duration

	mu      sync.Mutex
	perUser map[userKey]time.Time
	global  map[string]time.Time
}

type userKey struct {
	userID     string
	commandKey string
}

func NewLedger(c clock.Clock, userTTL, globalTTL time.Duration) *Ledger {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Ledger{
		clock:     c,
		userTTL:   userTTL,
		globalTTL: globalTTL,
		perUser:   make(map[userKey]time.Time),
		global:    make(map[string]time.Time),
	}
}

// Allow reports whether the user may run the command now. Both ledgers are
// consulted; the entry is not recorded (call Record after the effect runs).
func (l *Ledger) Allow(userID, commandKey string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.globalTTL > 0 {
		if last, ok := l.global[commandKey]; ok && now.Sub(last) < l.globalTTL {
			return false
		}
	}
	if l.userTTL > 0 {
		key := userKey{userID: userID, commandKey: commandKey}
		if last, ok := l.perUser[key]; ok && now.Sub(last) < l.userTTL {
			return false
		}
	}
	return true
}

// Record marks a successful execution in both ledgers.
func (l *Ledger) Record(userID, commandKey string) {
	now := l.clock.Now()

	l.mu.Lock()
	if l.userTTL > 0 {
		l.perUser[userKey{userID: userID, commandKey: commandKey}] = now
	}
	if l.globalTTL > 0 {
		l.global[commandKey] = now
	}
	l.mu.Unlock()
}

// Sweep drops expired entries. Callers run it periodically; correctness does
// not depend on it, only memory use.
func (l *Ledger) Sweep() {
	now := l.clock.Now()

	l.mu.Lock()
	for key, last := range l.perUser {
		if now.Sub(last) >= l.userTTL {
			delete(l.perUser, key)
		}
	}
	for key, last := range l.global {
		if now.Sub(last) >= l.globalTTL {
			delete(l.global, key)
		}
	}
	l.mu.Unlock()
}

// Size returns the entry counts of both ledgers, for observability.
func (l *Ledger) Size() (perUser, global int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perUser), len(l.global)
}
