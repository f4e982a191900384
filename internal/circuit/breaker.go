// Package circuit guards exit-order dispatch. The breaker halts new exit
// orders after repeated broker rejections or excessive realized daily loss;
// market-data reads are never gated.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/events"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"    // Dispatch allowed
	StateOpen     State = "open"      // Dispatch halted
	StateHalfOpen State = "half_open" // One probe exit allowed after cooldown
)

// Breaker trips on consecutive broker rejections or daily realized loss.
type Breaker struct {
	mu sync.RWMutex

	cfg   config.CircuitConfig
	bus   *events.Bus
	state State

	consecutiveRejects int
	dailyLossPct       float64
	dailyResetTime     time.Time
	lastTripTime       time.Time
	tripReason         string
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg config.CircuitConfig, bus *events.Bus) *Breaker {
	now := time.Now()
	return &Breaker{
		cfg:            cfg,
		bus:            bus,
		state:          StateClosed,
		dailyResetTime: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
}

// AllowDispatch reports whether an exit order may be placed now. After the
// cooldown the breaker moves to half-open and admits a single probe.
func (b *Breaker) AllowDispatch() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyIfNeeded()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastTripTime)
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("breaker open, cooldown remaining %v (reason: %s)",
				remaining.Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
	}

	return true, ""
}

// RecordFill records a filled exit and its realized PnL percent. A fill in
// half-open state closes the breaker.
func (b *Breaker) RecordFill(pnlPercent float64) {
	if !b.cfg.Enabled {
		return
	}
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	b.mu.Lock()
	b.resetDailyIfNeeded()

	b.consecutiveRejects = 0
	if pnlPercent < 0 {
		b.dailyLossPct += -pnlPercent
	}

	recovered := false
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.tripReason = ""
		recovered = true
	}

	var reason string
	if b.dailyLossPct >= b.cfg.MaxDailyLossPct {
		reason = fmt.Sprintf("daily loss %.2f%% >= %.2f%%", b.dailyLossPct, b.cfg.MaxDailyLossPct)
		b.trip(reason)
	}
	b.mu.Unlock()

	if recovered && b.bus != nil {
		b.bus.Publish(events.Event{Type: events.EventBreakerReset, Data: map[string]interface{}{
			"reason": "fill_after_cooldown",
		}})
	}
}

// RecordReject records a broker rejection of an exit order. A rejection
// while half-open re-trips immediately.
func (b *Breaker) RecordReject() {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	b.resetDailyIfNeeded()

	b.consecutiveRejects++
	if b.state == StateHalfOpen {
		b.trip("rejection during half-open probe")
	} else if b.consecutiveRejects >= b.cfg.MaxConsecutiveRejects {
		b.trip(fmt.Sprintf("consecutive rejections: %d", b.consecutiveRejects))
	}
	b.mu.Unlock()
}

// trip opens the breaker. Caller holds b.mu.
func (b *Breaker) trip(reason string) {
	if b.state == StateOpen {
		return
	}
	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason

	if b.bus != nil {
		go b.bus.Publish(events.Event{Type: events.EventBreakerTripped, Data: map[string]interface{}{
			"reason":              reason,
			"consecutive_rejects": b.consecutiveRejects,
			"daily_loss_pct":      b.dailyLossPct,
		}})
	}
}

func (b *Breaker) resetDailyIfNeeded() {
	now := time.Now()
	if now.After(b.dailyResetTime) {
		b.dailyLossPct = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// ForceReset closes the breaker manually.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveRejects = 0
	b.tripReason = ""
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(events.Event{Type: events.EventBreakerReset, Data: map[string]interface{}{
			"reason": "manual_reset",
		}})
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns a snapshot for the dashboard.
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]interface{}{
		"state":               string(b.state),
		"consecutive_rejects": b.consecutiveRejects,
		"daily_loss_pct":      b.dailyLossPct,
		"trip_reason":         b.tripReason,
		"last_trip_time":      b.lastTripTime,
	}
}
