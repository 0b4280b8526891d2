package event

import "time"

const (
	TypeOrderCreated       = "OrderCreated"
	TypeOrderStatusChanged = "OrderStatusChanged"
)

// SchemaVersionCurrent is stamped on every envelope this producer emits.
const SchemaVersionCurrent = 1

// OrderCreated is the payload for TypeOrderCreated.
type OrderCreated struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Item      string    `json:"item"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderStatusChanged is the payload for TypeOrderStatusChanged.
type OrderStatusChanged struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Version   int    `json:"version"`
}
