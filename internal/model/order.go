package model

// OrderStatus is the brokerage-reported (or synthesized) state of an order.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "Submitted"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"

	// StatusTimeout is synthesized by the fill monitor when an order is
	// abandoned without a confirming callback from the brokerage.
	StatusTimeout OrderStatus = "Timeout"
)

// Terminal reports whether the brokerage considers the order done.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// OrderUpdate is one asynchronous callback from the order gateway.
// Callbacks may arrive out of order, may repeat a status, and are not
// guaranteed to arrive at all. Filled is cumulative.
type OrderUpdate struct {
	OrderID      int         `json:"order_id"`
	Status       OrderStatus `json:"status,omitempty"`
	Filled       float64     `json:"filled"`
	Remaining    float64     `json:"remaining"`
	AvgFillPrice float64     `json:"avg_fill_price"`

	// ErrorCode/ErrorMsg are set when the gateway delivered an error
	// callback for this request id instead of a status transition.
	ErrorCode int    `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}
