package domain

import "time"

// Event is something other systems may want to hear about
type Event interface {
	Type() string
}

// OrderPlaced is raised after an order has been committed
type OrderPlaced struct {
	EventID      string      `json:"event_id"`
	OrderID      int64       `json:"order_id"`
	CustomerName string      `json:"customer_name"`
	PlacedBy     string      `json:"placed_by"`
	Lines        []OrderLine `json:"lines"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

func (e OrderPlaced) Type() string { return "OrderPlaced" }
