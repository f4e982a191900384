package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RequestPriority orders API requests by urgency. Higher priorities keep a
// larger share of the request budget so exits always go through even when
// background candle refreshes are saturating the limit.
type RequestPriority int

const (
	// PriorityCritical - order placement and cancellation.
	PriorityCritical RequestPriority = iota

	// PriorityHigh - position, holdings and order book reads.
	PriorityHigh

	// PriorityNormal - quotes and candle history.
	PriorityNormal

	// PriorityLow - breadth scans and analytics.
	PriorityLow
)

func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// budgetShare is the fraction of the per-second budget a priority may use.
var budgetShare = map[RequestPriority]float64{
	PriorityCritical: 1.0,
	PriorityHigh:     0.85,
	PriorityNormal:   0.6,
	PriorityLow:      0.4,
}

// RateLimiter enforces the vendor's per-second and per-minute request caps
// proactively (Kite bans clients that exceed 3 req/s).
type RateLimiter struct {
	mu sync.Mutex

	perSecond int
	perMinute int

	secondCount   int
	secondResetAt time.Time
	minuteCount   int
	minuteResetAt time.Time
}

// NewRateLimiter creates a limiter with the given per-second and per-minute caps.
func NewRateLimiter(perSecond, perMinute int) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		perSecond:     perSecond,
		perMinute:     perMinute,
		secondResetAt: now.Add(time.Second),
		minuteResetAt: now.Add(time.Minute),
	}
}

// Acquire blocks until a slot is available for the given priority or the
// context is cancelled.
func (rl *RateLimiter) Acquire(ctx context.Context, priority RequestPriority) error {
	for {
		wait, ok := rl.tryAcquire(priority)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (rl *RateLimiter) tryAcquire(priority RequestPriority) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.After(rl.secondResetAt) {
		rl.secondCount = 0
		rl.secondResetAt = now.Add(time.Second)
	}
	if now.After(rl.minuteResetAt) {
		rl.minuteCount = 0
		rl.minuteResetAt = now.Add(time.Minute)
	}

	share := budgetShare[priority]
	secondBudget := int(float64(rl.perSecond) * share)
	if secondBudget < 1 {
		secondBudget = 1
	}
	minuteBudget := int(float64(rl.perMinute) * share)
	if minuteBudget < 1 {
		minuteBudget = 1
	}

	if rl.secondCount >= secondBudget {
		return time.Until(rl.secondResetAt), false
	}
	if rl.minuteCount >= minuteBudget {
		return time.Until(rl.minuteResetAt), false
	}

	rl.secondCount++
	rl.minuteCount++
	return 0, true
}
