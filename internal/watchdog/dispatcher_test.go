package watchdog

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/circuit"
)

func newTestDispatcher(client broker.Client, tracker *Tracker) *Dispatcher {
	breaker := circuit.NewBreaker(config.CircuitConfig{
		Enabled:               true,
		MaxConsecutiveRejects: 3,
		MaxDailyLossPct:       5.0,
		CooldownMinutes:       30,
	}, nil)
	cfg := config.WatchdogConfig{ExitLimitBufferPct: 0.5}
	return NewDispatcher(client, tracker, breaker, nil, nil, cfg, zerolog.Nop())
}

func seedTracked(t *testing.T, client *broker.MockClient, tr *Tracker, ticker string, qty int64, avg float64) *TrackedPosition {
	t.Helper()
	client.SeedPosition(ticker, qty, avg, broker.ProductCNC)
	positions, err := client.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("seed positions: %v", err)
	}
	tr.Sync(positions, nil)
	pos := tr.Get(ticker)
	if pos == nil {
		t.Fatalf("%s not tracked after sync", ticker)
	}
	return pos
}

func TestQueueExitLimitBuffer(t *testing.T) {
	client := broker.NewMockClient()
	tr := newTestTracker()
	d := newTestDispatcher(client, tr)
	pos := seedTracked(t, client, tr, "RELIANCE", 10, 2900)

	orderID, err := d.QueueExit(context.Background(), pos, "atr", 2900)
	if err != nil {
		t.Fatalf("QueueExit: %v", err)
	}
	if orderID == "" {
		t.Fatal("exit was gated unexpectedly")
	}

	order, err := client.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.TransactionType != broker.TransactionSell {
		t.Errorf("transaction = %s, want SELL for a long exit", order.TransactionType)
	}

	// 0.5% below the reference, snapped to the 0.05 tick.
	want := math.Round(2900*0.995/0.05) * 0.05
	if math.Abs(order.Price-want) > 1e-9 {
		t.Errorf("limit = %.2f, want %.2f", order.Price, want)
	}
}

func TestQueueExitPendingGate(t *testing.T) {
	client := broker.NewMockClient()
	tr := newTestTracker()
	d := newTestDispatcher(client, tr)
	pos := seedTracked(t, client, tr, "TCS", 5, 4100)

	first, err := d.QueueExit(context.Background(), pos, "atr", 4100)
	if err != nil || first == "" {
		t.Fatalf("first exit = (%q, %v)", first, err)
	}

	// Second breach while the first order is unresolved must not dispatch.
	second, err := d.QueueExit(context.Background(), pos, "psar", 4090)
	if err != nil {
		t.Fatalf("second QueueExit: %v", err)
	}
	if second != "" {
		t.Error("second exit dispatched despite pending order")
	}

	orders, _ := client.GetOrders(context.Background())
	if len(orders) != 1 {
		t.Errorf("broker saw %d orders, want 1", len(orders))
	}
}

func TestResolveFillRemovesPosition(t *testing.T) {
	client := broker.NewMockClient()
	tr := newTestTracker()
	d := newTestDispatcher(client, tr)
	pos := seedTracked(t, client, tr, "INFY", 20, 1800)

	if _, err := d.QueueExit(context.Background(), pos, "atr", 1800); err != nil {
		t.Fatalf("QueueExit: %v", err)
	}

	d.ResolvePending(context.Background())

	if d.HasPending("INFY") {
		t.Error("fill must clear the pending slot")
	}
	if tr.Get("INFY") != nil {
		t.Error("fill must remove the tracked position")
	}
}

func TestRejectedExitRetriggers(t *testing.T) {
	client := broker.NewMockClient()
	tr := newTestTracker()
	d := newTestDispatcher(client, tr)
	pos := seedTracked(t, client, tr, "SBIN", 50, 820)

	client.RejectNext = true
	first, err := d.QueueExit(context.Background(), pos, "atr", 820)
	if err != nil || first == "" {
		t.Fatalf("first exit = (%q, %v)", first, err)
	}

	d.ResolvePending(context.Background())

	if d.HasPending("SBIN") {
		t.Fatal("rejection must clear the pending slot")
	}
	if tr.Get("SBIN") == nil {
		t.Fatal("rejection must not drop the position")
	}

	// The stop is still breached on the next cycle; the exit re-dispatches.
	second, err := d.QueueExit(context.Background(), tr.Get("SBIN"), "atr", 818)
	if err != nil {
		t.Fatalf("re-trigger QueueExit: %v", err)
	}
	if second == "" || second == first {
		t.Errorf("re-trigger order = %q, want a fresh order (first %q)", second, first)
	}
}

func TestQueueExitSkipsClosedPosition(t *testing.T) {
	client := broker.NewMockClient()
	tr := newTestTracker()
	d := newTestDispatcher(client, tr)
	pos := seedTracked(t, client, tr, "ITC", 100, 500)

	// Operator closed it manually between sync and dispatch.
	client.RemovePosition("ITC")

	orderID, err := d.QueueExit(context.Background(), pos, "atr", 500)
	if err != nil {
		t.Fatalf("QueueExit: %v", err)
	}
	if orderID != "" {
		t.Error("exit dispatched for a position the broker no longer reports")
	}

	orders, _ := client.GetOrders(context.Background())
	if len(orders) != 0 {
		t.Errorf("broker saw %d orders, want 0", len(orders))
	}
}

func TestQueueExitNeverOversells(t *testing.T) {
	client := broker.NewMockClient()
	tr := newTestTracker()
	d := newTestDispatcher(client, tr)
	pos := seedTracked(t, client, tr, "RELIANCE", 10, 2900)

	// Operator sold 6 of 10 manually; the tracked size is stale.
	client.SeedPosition("RELIANCE", 4, 2900, broker.ProductCNC)

	orderID, err := d.QueueExit(context.Background(), pos, "atr", 2890)
	if err != nil {
		t.Fatalf("QueueExit: %v", err)
	}
	if orderID != "" {
		t.Fatal("exit dispatched with a stale quantity")
	}
	orders, _ := client.GetOrders(context.Background())
	if len(orders) != 0 {
		t.Fatalf("broker saw %d orders, want 0 on a size mismatch", len(orders))
	}

	// The mismatch corrected the tracked size; the next breach exits 4.
	pos = tr.Get("RELIANCE")
	if pos.Quantity != 4 {
		t.Fatalf("tracked quantity = %d, want corrected to 4", pos.Quantity)
	}
	orderID, err = d.QueueExit(context.Background(), pos, "atr", 2885)
	if err != nil || orderID == "" {
		t.Fatalf("re-dispatch = (%q, %v)", orderID, err)
	}
	order, _ := client.GetOrder(context.Background(), orderID)
	if order.Quantity != 4 {
		t.Errorf("exit quantity = %d, want the broker-reported 4", order.Quantity)
	}
}

func TestShortExitBuysBack(t *testing.T) {
	client := broker.NewMockClient()
	tr := newTestTracker()
	d := newTestDispatcher(client, tr)
	pos := seedTracked(t, client, tr, "TATAMOTORS", -10, 1050)

	orderID, err := d.QueueExit(context.Background(), pos, "atr", 1060)
	if err != nil || orderID == "" {
		t.Fatalf("QueueExit = (%q, %v)", orderID, err)
	}

	order, _ := client.GetOrder(context.Background(), orderID)
	if order.TransactionType != broker.TransactionBuy {
		t.Errorf("transaction = %s, want BUY to cover a short", order.TransactionType)
	}
	// Buffer is unfavorable for the exit: above the reference for a buy.
	if order.Price <= 1060 {
		t.Errorf("limit = %.2f, want above reference 1060", order.Price)
	}
}
