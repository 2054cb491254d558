// Package gateway abstracts the brokerage connection: order placement,
// cancellation, and the asynchronous order-status callback stream.
//
// The concrete transport (WSGateway) speaks JSON frames over a websocket to
// a local brokerage bridge. The executor and fill monitor only see the
// Gateway interface, so tests script callbacks through a fake.
package gateway

import (
	"context"
	"errors"

	"trade-executorv1/internal/model"
)

var (
	// ErrConnectionTimeout is returned by Connect when the bridge does not
	// deliver the next-valid-order-id handshake within the deadline.
	ErrConnectionTimeout = errors.New("gateway: no order-id handshake from brokerage")

	// ErrNotConnected is returned by order operations before Connect.
	ErrNotConnected = errors.New("gateway: not connected")
)

// ContractSpec identifies the instrument an order trades.
type ContractSpec struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"sec_type"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// StockContract builds the standard US equity contract for a ticker.
func StockContract(ticker string) ContractSpec {
	return ContractSpec{Symbol: ticker, SecType: "STK", Exchange: "SMART", Currency: "USD"}
}

// OrderSpec describes the order itself.
type OrderSpec struct {
	Action    string  `json:"action"` // BUY or SELL
	Quantity  float64 `json:"quantity"`
	OrderType string  `json:"order_type"` // MKT or STP
	StopPrice float64 `json:"stop_price,omitempty"`
}

// MarketOrder builds a market order.
func MarketOrder(action string, shares float64) OrderSpec {
	return OrderSpec{Action: action, Quantity: shares, OrderType: "MKT"}
}

// StopOrder builds a stop order triggered at stopPrice.
func StopOrder(action string, shares, stopPrice float64) OrderSpec {
	return OrderSpec{Action: action, Quantity: shares, OrderType: "STP", StopPrice: stopPrice}
}

// Gateway is the capability contract against the brokerage.
//
// Callbacks may arrive in any order, may repeat, and may never arrive at
// all for a given order; callers own the timeout policy. Updates must be
// requested before the order is placed so no callback is lost between
// placement and subscription.
type Gateway interface {
	// Connect opens the session and blocks until the brokerage delivers the
	// initial order-id handshake, ErrConnectionTimeout, or ctx is done.
	Connect(ctx context.Context) error

	// NextOrderID returns a monotonically increasing order id, seeded from
	// the handshake. Single-owner counter: only this process allocates from it.
	NextOrderID() int

	// PlaceOrder submits an order under a previously allocated id.
	PlaceOrder(orderID int, contract ContractSpec, order OrderSpec) error

	// CancelOrder requests cancellation; confirmation (if any) arrives as a
	// status callback.
	CancelOrder(orderID int) error

	// Updates returns the callback channel for orderID, creating it if
	// needed. Idempotent: callers and the reader loop share one channel.
	Updates(orderID int) <-chan model.OrderUpdate

	// Release drops the callback channel for an order the caller is done
	// watching.
	Release(orderID int)

	// Disconnect closes the session. Safe to call repeatedly and when the
	// connection never opened.
	Disconnect()
}
