package watchdog

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/stops"
)

func newTestTracker() *Tracker {
	return NewTracker(nil, zerolog.Nop())
}

func TestSyncAddsAndRemoves(t *testing.T) {
	tr := newTestTracker()

	vanished := tr.Sync([]broker.Position{
		{Ticker: "RELIANCE", Quantity: 10, AveragePrice: 2900, LastPrice: 2950},
		{Ticker: "TCS", Quantity: -5, AveragePrice: 4200, LastPrice: 4150},
	}, nil)
	if len(vanished) != 0 {
		t.Errorf("first sync reported vanished: %v", vanished)
	}
	if tr.Count() != 2 {
		t.Fatalf("tracked = %d, want 2", tr.Count())
	}

	long := tr.Get("RELIANCE")
	if long.Side != stops.SideLong || long.Quantity != 10 {
		t.Errorf("RELIANCE side=%s qty=%d, want LONG 10", long.Side, long.Quantity)
	}
	short := tr.Get("TCS")
	if short.Side != stops.SideShort || short.Quantity != 5 {
		t.Errorf("TCS side=%s qty=%d, want SHORT 5 (absolute)", short.Side, short.Quantity)
	}

	// TCS disappears at the broker: manual exit, watchdog must let go.
	vanished = tr.Sync([]broker.Position{
		{Ticker: "RELIANCE", Quantity: 10, AveragePrice: 2900, LastPrice: 2960},
	}, nil)
	if len(vanished) != 1 || vanished[0] != "TCS" {
		t.Errorf("vanished = %v, want [TCS]", vanished)
	}
	if tr.Get("TCS") != nil {
		t.Error("TCS should no longer be tracked")
	}
}

func TestSyncTracksHoldings(t *testing.T) {
	tr := newTestTracker()

	tr.Sync(nil, []broker.Holding{
		{Ticker: "HDFCBANK", Exchange: "NSE", Quantity: 40, AveragePrice: 1650, LastPrice: 1690},
	})

	pos := tr.Get("HDFCBANK")
	if pos == nil {
		t.Fatal("delivery holding must be tracked")
	}
	if pos.Side != stops.SideLong || pos.Quantity != 40 {
		t.Errorf("HDFCBANK side=%s qty=%d, want LONG 40", pos.Side, pos.Quantity)
	}
	if pos.Product != broker.ProductCNC {
		t.Errorf("product = %s, want CNC", pos.Product)
	}
}

func TestSyncPositionsWinOverHoldings(t *testing.T) {
	tr := newTestTracker()

	// Part of the holding was sold intraday: the net position carries the
	// live figure and must take precedence over the stale holding row.
	tr.Sync(
		[]broker.Position{{Ticker: "ICICIBANK", Quantity: 30, AveragePrice: 1200, LastPrice: 1240}},
		[]broker.Holding{{Ticker: "ICICIBANK", Quantity: 50, AveragePrice: 1150}},
	)

	pos := tr.Get("ICICIBANK")
	if pos.Quantity != 30 {
		t.Errorf("quantity = %d, want the position's 30, not the holding's 50", pos.Quantity)
	}
	if tr.Count() != 1 {
		t.Errorf("tracked = %d, want 1", tr.Count())
	}
}

func TestSyncIgnoresZeroQuantity(t *testing.T) {
	tr := newTestTracker()
	tr.Sync([]broker.Position{{Ticker: "INFY", Quantity: 0, AveragePrice: 1850}}, nil)
	if tr.Count() != 0 {
		t.Error("zero-quantity positions must not be tracked")
	}
}

func TestSyncPreservesStopState(t *testing.T) {
	tr := newTestTracker()
	tr.Sync([]broker.Position{{Ticker: "SBIN", Quantity: 50, AveragePrice: 800}}, nil)

	pos := tr.Get("SBIN")
	pos.ATRStop = stops.NewTrailingStop(stops.SideLong, 800, 10, 2)

	tr.Sync([]broker.Position{{Ticker: "SBIN", Quantity: 25, AveragePrice: 800, LastPrice: 820}}, nil)

	pos = tr.Get("SBIN")
	if pos.ATRStop == nil {
		t.Fatal("partial fill must not reset the stop")
	}
	if pos.Quantity != 25 {
		t.Errorf("quantity = %d, want 25", pos.Quantity)
	}
}

func TestSyncResetsOnDirectionFlip(t *testing.T) {
	tr := newTestTracker()
	tr.Sync([]broker.Position{{Ticker: "ITC", Quantity: 100, AveragePrice: 500}}, nil)
	tr.Get("ITC").ATRStop = stops.NewTrailingStop(stops.SideLong, 500, 5, 2)

	tr.Sync([]broker.Position{{Ticker: "ITC", Quantity: -100, AveragePrice: 510}}, nil)

	pos := tr.Get("ITC")
	if pos.Side != stops.SideShort {
		t.Errorf("side = %s, want SHORT", pos.Side)
	}
	if pos.ATRStop != nil {
		t.Error("direction flip must discard the old stop")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	tr := newTestTracker()
	tr.Sync([]broker.Position{{Ticker: "LT", Quantity: 5, AveragePrice: 3800}}, nil)

	tr.Remove("LT")
	tr.Remove("LT") // second removal after a sync race must be harmless
	tr.Remove("NEVER_TRACKED")

	if tr.Count() != 0 {
		t.Errorf("tracked = %d, want 0", tr.Count())
	}
}

func TestSnapshotIsolatesCallers(t *testing.T) {
	tr := newTestTracker()
	tr.Sync([]broker.Position{{Ticker: "BHARTIARTL", Quantity: 10, AveragePrice: 1500}}, nil)
	tr.Get("BHARTIARTL").ATRStop = stops.NewTrailingStop(stops.SideLong, 1500, 15, 2)

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size = %d, want 1", len(snap))
	}

	// Mutating the snapshot must not reach the live position.
	snap[0].Quantity = 999
	snap[0].ATRStop.CurrentStop = 1
	live := tr.Get("BHARTIARTL")
	if live.Quantity != 10 {
		t.Errorf("live quantity = %d, want 10", live.Quantity)
	}
	if live.ATRStop.CurrentStop == 1 {
		t.Error("snapshot must deep-copy the stop, not alias it")
	}
	if snap[0].ATRStop == live.ATRStop {
		t.Error("snapshot and live stop share a pointer")
	}
}

// The API marshals snapshots while the watchdog ratchets stops. Run with -race.
func TestSnapshotDuringConcurrentMutation(t *testing.T) {
	tr := newTestTracker()
	tr.Sync([]broker.Position{{Ticker: "RELIANCE", Quantity: 10, AveragePrice: 2900, LastPrice: 2900}}, nil)
	tr.Mutate("RELIANCE", func(p *TrackedPosition) {
		p.ATRStop = stops.NewTrailingStop(stops.SideLong, 2900, 20, 2)
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		price := 2900.0
		for i := 0; i < 500; i++ {
			price += 0.5
			tr.Mutate("RELIANCE", func(p *TrackedPosition) {
				p.ATRStop.Observe(price, 20, 2)
				p.LastPrice = price
				p.LastATR = 20
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, err := json.Marshal(tr.Snapshot()); err != nil {
				t.Errorf("marshal snapshot: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestVerifyDropsClosedPosition(t *testing.T) {
	client := broker.NewMockClient()
	client.SeedPosition("RELIANCE", 10, 2900, broker.ProductCNC)

	tr := newTestTracker()
	positions, _ := client.GetPositions(context.Background())
	tr.Sync(positions, nil)

	open, err := tr.Verify(context.Background(), client, "RELIANCE", 10)
	if err != nil || !open {
		t.Fatalf("Verify = (%v, %v), want (true, nil)", open, err)
	}

	// Broker-side close: verify must report closed and drop the local copy.
	client.RemovePosition("RELIANCE")
	open, err = tr.Verify(context.Background(), client, "RELIANCE", 10)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if open {
		t.Error("Verify should report the position closed")
	}
	if tr.Get("RELIANCE") != nil {
		t.Error("Verify should remove the stale local position")
	}
}

func TestVerifyRejectsQuantityMismatch(t *testing.T) {
	client := broker.NewMockClient()
	client.SeedPosition("TCS", 10, 4100, broker.ProductCNC)

	tr := newTestTracker()
	positions, _ := client.GetPositions(context.Background())
	tr.Sync(positions, nil)

	// Part of the position was sold manually between sync and dispatch.
	client.SeedPosition("TCS", 4, 4100, broker.ProductCNC)

	open, err := tr.Verify(context.Background(), client, "TCS", 10)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if open {
		t.Error("Verify must fail on a quantity mismatch")
	}
	if got := tr.Get("TCS").Quantity; got != 4 {
		t.Errorf("quantity after mismatch = %d, want corrected to 4", got)
	}

	// With the corrected size the next check passes.
	open, err = tr.Verify(context.Background(), client, "TCS", 4)
	if err != nil || !open {
		t.Errorf("Verify after correction = (%v, %v), want (true, nil)", open, err)
	}
}

func TestVerifyFindsHolding(t *testing.T) {
	client := broker.NewMockClient()
	client.SeedHolding("HDFCBANK", 40, 1650)

	tr := newTestTracker()
	holdings, _ := client.GetHoldings(context.Background())
	tr.Sync(nil, holdings)

	open, err := tr.Verify(context.Background(), client, "HDFCBANK", 40)
	if err != nil || !open {
		t.Fatalf("Verify = (%v, %v), want (true, nil) for a delivery holding", open, err)
	}

	client.RemoveHolding("HDFCBANK")
	open, _ = tr.Verify(context.Background(), client, "HDFCBANK", 40)
	if open {
		t.Error("Verify should report the sold holding closed")
	}
	if tr.Get("HDFCBANK") != nil {
		t.Error("Verify should remove the stale holding copy")
	}
}
