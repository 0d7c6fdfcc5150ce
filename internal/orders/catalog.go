package orders

import (
	"context"
	"errors"

	"github.com/ariefcatur/resto-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const dishColumns = `id, name, description, price::text, quantity, created_at, updated_at`

const (
	listAvailableSQL = `SELECT ` + dishColumns + ` FROM dishes WHERE quantity > 0 ORDER BY id`
	getDishSQL       = `SELECT ` + dishColumns + ` FROM dishes WHERE id = $1`
	insertDishSQL    = `INSERT INTO dishes(name, description, price, quantity)
		VALUES ($1, $2, $3::numeric, $4)
		RETURNING ` + dishColumns
	restockSQL = `UPDATE dishes SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING ` + dishColumns
)

// Catalog is the read side of the dishes table plus the manager-only
// inventory mutations.
type Catalog struct{ DB postgres.DB }

func scanDish(row pgx.Row) (Dish, error) {
	var (
		d     Dish
		price string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &price, &d.Quantity, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Dish{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Dish{}, err
	}
	d.Price = p
	return d, nil
}

func (c *Catalog) ListAvailable(ctx context.Context) ([]Dish, error) {
	rows, err := c.DB.Query(ctx, listAvailableSQL)
	if err != nil {
		return nil, storeErr("list dishes", err)
	}
	defer rows.Close()

	out := []Dish{}
	for rows.Next() {
		d, err := scanDish(rows)
		if err != nil {
			return nil, storeErr("scan dish", err)
		}
		if d.Quantity > 0 {
			out = append(out, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list dishes", err)
	}
	return out, nil
}

// CheckAvailability reports whether dishID exists with at least qty in stock.
// An unknown dish yields a zero Dish and false; a known dish with too little
// stock yields the dish and false.
func (c *Catalog) CheckAvailability(ctx context.Context, dishID int64, qty int) (Dish, bool, error) {
	d, err := scanDish(c.DB.QueryRow(ctx, getDishSQL, dishID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Dish{}, false, nil
	}
	if err != nil {
		return Dish{}, false, storeErr("check availability", err)
	}
	return d, d.Quantity >= qty, nil
}

func (c *Catalog) AddDish(ctx context.Context, nd NewDish) (Dish, error) {
	if nd.Price.IsNegative() {
		return Dish{}, malformed("price must not be negative")
	}
	d, err := scanDish(c.DB.QueryRow(ctx, insertDishSQL, nd.Name, nd.Description, nd.Price.String(), nd.Quantity))
	if err != nil {
		return Dish{}, storeErr("insert dish", err)
	}
	return d, nil
}

// Restock adds delta (which may be negative) to a dish's stock. The result
// never drops below zero.
func (c *Catalog) Restock(ctx context.Context, dishID int64, delta int) (Dish, error) {
	d, err := scanDish(c.DB.QueryRow(ctx, restockSQL, dishID, delta))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dish{}, storeErr("restock", err)
	}

	if _, err := scanDish(c.DB.QueryRow(ctx, getDishSQL, dishID)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dish{}, ErrDishNotFound
		}
		return Dish{}, storeErr("restock", err)
	}
	return Dish{}, malformed("stock for dish %d cannot go below zero", dishID)
}
