package broker

import "context"

// Client is the vendor-neutral broker interface the watchdog runs against.
// Kite and XTS adapters normalize their REST shapes onto these methods;
// the mock client backs dry-run mode and tests.
type Client interface {
	GetPositions(ctx context.Context) ([]Position, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
	GetQuote(ctx context.Context, ticker string) (*Quote, error)
	GetHistoricalCandles(ctx context.Context, ticker, interval string, limit int) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrders(ctx context.Context) ([]Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

var _ Client = (*KiteClient)(nil)
var _ Client = (*XTSClient)(nil)
var _ Client = (*MockClient)(nil)
