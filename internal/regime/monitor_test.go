package regime

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/broker"
)

func newTestMonitor() *Monitor {
	cfg := config.RegimeConfig{
		Enabled:     true,
		Universe:    []string{"RELIANCE", "TCS", "INFY", "SBIN"},
		IndexTicker: "RELIANCE",
		SMAPeriod:   10,
		ATRPeriod:   14,
	}
	return NewMonitor(broker.NewMockClient(), nil, cfg, zerolog.Nop())
}

func TestRefreshProducesSnapshot(t *testing.T) {
	m := newTestMonitor()
	if m.Current() != nil {
		t.Fatal("fresh monitor must have no snapshot")
	}

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := m.Current()
	if snap == nil {
		t.Fatal("Refresh must install a snapshot")
	}
	if snap.Label == "" {
		t.Error("snapshot must carry a regime label")
	}
}

func TestRefreshEmptyUniverseFails(t *testing.T) {
	cfg := config.RegimeConfig{IndexTicker: "RELIANCE", SMAPeriod: 10, ATRPeriod: 14}
	m := NewMonitor(broker.NewMockClient(), nil, cfg, zerolog.Nop())
	if err := m.Refresh(context.Background()); err == nil {
		t.Error("empty universe must fail the refresh")
	}
}

// Current is read from the watchdog and API goroutines while the cron
// goroutine refreshes. Run with -race.
func TestCurrentDuringConcurrentRefresh(t *testing.T) {
	m := newTestMonitor()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			if err := m.Refresh(context.Background()); err != nil {
				t.Errorf("Refresh: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if snap := m.Current(); snap != nil {
				_ = snap.Label
			}
		}
	}()
	wg.Wait()
}
