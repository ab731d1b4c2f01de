package botkit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CooldownLedger maps command name to actor ID to expiry. Only the
// dispatcher's cooldown stage writes it during dispatch. Acquire performs the
// check and the set under one lock, so two overlapping invocations can never
// both pass.
type CooldownLedger struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time
	now     func() time.Time
}

// NewCooldownLedger returns an empty ledger.
func NewCooldownLedger() *CooldownLedger {
	return &CooldownLedger{
		entries: make(map[string]map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire reports whether the actor may run command now. When the previous
// window still runs it returns the remaining time and false without touching
// the ledger. Otherwise it stamps now+d and returns true; the stamp lands
// before the caller invokes the handler, never after.
func (l *CooldownLedger) Acquire(command, actorID string, d time.Duration) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.entries[command][actorID]; ok && now.Before(expiry) {
		return expiry.Sub(now), false
	}

	per, ok := l.entries[command]
	if !ok {
		per = make(map[string]time.Time)
		l.entries[command] = per
	}
	per[actorID] = now.Add(d)
	return 0, true
}

// Remaining returns how long the actor's window on command still runs, or
// zero when none does.
func (l *CooldownLedger) Remaining(command, actorID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.entries[command][actorID]
	if !ok {
		return 0
	}
	if rem := expiry.Sub(l.now()); rem > 0 {
		return rem
	}
	return 0
}

// Clear drops the actor's entry for command, ending the window early.
func (l *CooldownLedger) Clear(command, actorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if per, ok := l.entries[command]; ok {
		delete(per, actorID)
		if len(per) == 0 {
			delete(l.entries, command)
		}
	}
}

// Sweep removes entries expired for longer than grace and returns how many it
// dropped. Dispatch semantics never depend on it; it only bounds memory.
func (l *CooldownLedger) Sweep(grace time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-grace)
	dropped := 0
	for command, per := range l.entries {
		for actor, expiry := range per {
			if expiry.Before(cutoff) {
				delete(per, actor)
				dropped++
			}
		}
		if len(per) == 0 {
			delete(l.entries, command)
		}
	}
	return dropped
}

// RunJanitor sweeps the ledger on every tick until ctx is done. Call it from
// the engine's background runner.
func (l *CooldownLedger) RunJanitor(ctx context.Context, interval, grace time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(grace); n > 0 {
				log.Debug().Int("dropped", n).Msg("cooldown sweep")
			}
		}
	}
}
