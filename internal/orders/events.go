package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a version 1 envelope correlated by order id.
func NewEnvelope(eventType, producer, traceID, orderID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       raw,
	}, nil
}

type ItemPrice struct {
	DishID   int64           `json:"dish_id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID         int64           `json:"order_id"`
	UserID          int64           `json:"user_id"`
	SpecialRequests string          `json:"special_requests,omitempty"`
	Items           []ItemPrice     `json:"items"`
	Total           decimal.Decimal `json:"total"`
}

func NewOrderCreatedPayload(o Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{DishID: it.DishID, Quantity: it.Quantity, Price: it.Price})
	}
	return OrderCreatedPayload{
		OrderID:         o.ID,
		UserID:          o.UserID,
		SpecialRequests: o.SpecialRequests,
		Items:           items,
		Total:           o.Total(),
	}
}

type OrderStatusChangedPayload struct {
	OrderID   int64     `json:"order_id"`
	Status    Status    `json:"status"`
	ChangedBy int64     `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}
