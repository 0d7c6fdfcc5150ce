package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Dish struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type NewDish struct {
	Name        string          `json:"name" validate:"required,max=100"`
	Description string          `json:"description" validate:"max=1000"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
}

type Order struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Status          Status     `json:"status"`
	SpecialRequests string     `json:"special_requests,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Items           []LineItem `json:"dishes,omitempty"`
}

// LineItem.Price is the unit price captured when the order was placed.
type LineItem struct {
	ID       int64           `json:"id"`
	OrderID  int64           `json:"order_id"`
	DishID   int64           `json:"dish_id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Total is the sum of price*quantity over all line items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

type ItemInput struct {
	DishID   int64            `json:"dish_id"`
	Quantity int              `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

type CreateRequest struct {
	UserID          int64       `json:"user_id"`
	SpecialRequests string      `json:"special_requests"`
	Items           []ItemInput `json:"dishes"`
}

// ValidOrder is only produced by Validator.Validate. Every item carries the
// menu price snapshotted during validation.
type ValidOrder struct {
	UserID          int64
	SpecialRequests string
	Items           []ValidItem
}

type ValidItem struct {
	DishID   int64
	Quantity int
	Price    decimal.Decimal
}
