package circuit

import (
	"testing"

	"kite-trading-bot/config"
)

func testConfig() config.CircuitConfig {
	return config.CircuitConfig{
		Enabled:               true,
		MaxConsecutiveRejects: 3,
		MaxDailyLossPct:       5.0,
		CooldownMinutes:       30,
	}
}

func TestBreakerTripsOnConsecutiveRejects(t *testing.T) {
	b := NewBreaker(testConfig(), nil)

	b.RecordReject()
	b.RecordReject()
	if allowed, _ := b.AllowDispatch(); !allowed {
		t.Fatal("two rejects must not trip a three-reject breaker")
	}

	b.RecordReject()
	if allowed, reason := b.AllowDispatch(); allowed {
		t.Fatal("third reject must trip the breaker")
	} else if reason == "" {
		t.Error("blocked dispatch must carry a reason")
	}
	if b.GetState() != StateOpen {
		t.Errorf("state = %s, want open", b.GetState())
	}
}

func TestFillResetsRejectStreak(t *testing.T) {
	b := NewBreaker(testConfig(), nil)

	b.RecordReject()
	b.RecordReject()
	b.RecordFill(1.0)
	b.RecordReject()
	b.RecordReject()

	if allowed, _ := b.AllowDispatch(); !allowed {
		t.Error("a fill between rejects must reset the streak")
	}
}

func TestBreakerTripsOnDailyLoss(t *testing.T) {
	b := NewBreaker(testConfig(), nil)

	b.RecordFill(-2.0)
	b.RecordFill(-2.0)
	if allowed, _ := b.AllowDispatch(); !allowed {
		t.Fatal("4% loss must not trip a 5% breaker")
	}

	b.RecordFill(-1.5)
	if allowed, _ := b.AllowDispatch(); allowed {
		t.Error("5.5% loss must trip the breaker")
	}
}

func TestBreakerCooldownAndHalfOpen(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownMinutes = 0 // Cooldown elapses immediately
	b := NewBreaker(cfg, nil)

	b.RecordReject()
	b.RecordReject()
	b.RecordReject()
	if b.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	// Cooldown over: the probe is admitted in half-open.
	if allowed, _ := b.AllowDispatch(); !allowed {
		t.Fatal("expired cooldown must admit a probe")
	}
	if b.GetState() != StateHalfOpen {
		t.Errorf("state = %s, want half_open", b.GetState())
	}

	// Probe fills: breaker closes.
	b.RecordFill(0.5)
	if b.GetState() != StateClosed {
		t.Errorf("state after probe fill = %s, want closed", b.GetState())
	}
}

func TestHalfOpenRejectRetrips(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownMinutes = 0
	b := NewBreaker(cfg, nil)

	b.RecordReject()
	b.RecordReject()
	b.RecordReject()
	b.AllowDispatch() // moves to half-open

	b.RecordReject()
	if b.GetState() != StateOpen {
		t.Errorf("state = %s, want re-opened after half-open reject", b.GetState())
	}
}

func TestDisabledBreakerAllowsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	b := NewBreaker(cfg, nil)

	for i := 0; i < 10; i++ {
		b.RecordReject()
	}
	if allowed, _ := b.AllowDispatch(); !allowed {
		t.Error("disabled breaker must never block")
	}
}

func TestForceReset(t *testing.T) {
	b := NewBreaker(testConfig(), nil)
	b.RecordReject()
	b.RecordReject()
	b.RecordReject()

	b.ForceReset()
	if b.GetState() != StateClosed {
		t.Errorf("state = %s, want closed after manual reset", b.GetState())
	}
	if allowed, _ := b.AllowDispatch(); !allowed {
		t.Error("reset breaker must allow dispatch")
	}
}

func TestBreakerIgnoresInvalidPnL(t *testing.T) {
	b := NewBreaker(testConfig(), nil)

	b.RecordFill(nan())
	if allowed, _ := b.AllowDispatch(); !allowed {
		t.Error("NaN PnL must be ignored, not counted as loss")
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
