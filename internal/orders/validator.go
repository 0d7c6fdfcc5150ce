package orders

import (
	"context"
	"math"
	"unicode/utf8"
)

const (
	maxSpecialRequests = 1000
	// maxQuantity matches the INTEGER quantity columns.
	maxQuantity = math.MaxInt32
)

// AvailabilityChecker is the part of the catalog the validator needs.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, dishID int64, qty int) (Dish, bool, error)
}

type Validator struct{ Catalog AvailabilityChecker }

// Validate runs the structural checks, then asks the catalog once per
// distinct dish (quantities for a repeated dish are summed). All shortfalls
// are reported together. On success every item carries the menu price.
func (v *Validator) Validate(ctx context.Context, req CreateRequest) (ValidOrder, error) {
	if err := checkStructure(req); err != nil {
		return ValidOrder{}, err
	}

	demand := map[int64]int{}
	var order []int64
	for _, it := range req.Items {
		if _, seen := demand[it.DishID]; !seen {
			order = append(order, it.DishID)
		}
		demand[it.DishID] += it.Quantity
	}

	dishes := make(map[int64]Dish, len(order))
	var shortfalls []Shortfall
	for _, id := range order {
		d, ok, err := v.Catalog.CheckAvailability(ctx, id, demand[id])
		if err != nil {
			return ValidOrder{}, err
		}
		if !ok {
			shortfalls = append(shortfalls, Shortfall{DishID: id, Requested: demand[id], Available: d.Quantity})
			continue
		}
		dishes[id] = d
	}
	if len(shortfalls) > 0 {
		return ValidOrder{}, unavailable(shortfalls)
	}

	out := ValidOrder{
		UserID:          req.UserID,
		SpecialRequests: req.SpecialRequests,
		Items:           make([]ValidItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		menu := dishes[it.DishID].Price
		if it.Price != nil && !it.Price.Equal(menu) {
			return ValidOrder{}, malformed("price %s for dish %d does not match menu price %s", it.Price, it.DishID, menu)
		}
		out.Items = append(out.Items, ValidItem{DishID: it.DishID, Quantity: it.Quantity, Price: menu})
	}
	return out, nil
}

func checkStructure(req CreateRequest) error {
	if req.UserID <= 0 {
		return malformed("user_id must be a positive integer")
	}
	if len(req.Items) == 0 {
		return malformed("order must contain at least one dish")
	}
	if utf8.RuneCountInString(req.SpecialRequests) > maxSpecialRequests {
		return malformed("special_requests must be at most %d characters", maxSpecialRequests)
	}
	for i, it := range req.Items {
		if it.DishID <= 0 {
			return malformed("dishes[%d]: dish_id must be a positive integer", i)
		}
		if it.Quantity <= 0 {
			return malformed("dishes[%d]: quantity must be positive", i)
		}
		if it.Quantity > maxQuantity {
			return malformed("dishes[%d]: quantity must be at most %d", i, maxQuantity)
		}
		if it.Price != nil && it.Price.IsNegative() {
			return malformed("dishes[%d]: price must not be negative", i)
		}
	}
	return nil
}
