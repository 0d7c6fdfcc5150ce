package orders

import (
	"context"
	"errors"

	"github.com/ariefcatur/resto-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	orderColumns  = `id, user_id, status, special_requests, created_at, updated_at`
	getOrderSQL   = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	listItemsSQL  = `SELECT id, order_id, dish_id, quantity, price::text FROM order_items WHERE order_id = $1 ORDER BY id`
	listByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
)

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reader reconstructs orders straight from storage on every call.
type Reader struct{ DB postgres.DB }

// Get returns nil, nil when no order has the given id.
func (r *Reader) Get(ctx context.Context, orderID int64) (*Order, error) {
	o, err := getOrder(ctx, r.DB, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	return o, err
}

func (r *Reader) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	rows, err := r.DB.Query(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, storeErr("read", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeErr("read", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &o.SpecialRequests, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func getOrder(ctx context.Context, q querier, orderID int64) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, getOrderSQL, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, storeErr("read", err)
	}

	rows, err := q.Query(ctx, listItemsSQL, orderID)
	if err != nil {
		return nil, storeErr("read", err)
	}
	defer rows.Close()

	o.Items = []LineItem{}
	for rows.Next() {
		var (
			li    LineItem
			price string
		)
		if err := rows.Scan(&li.ID, &li.OrderID, &li.DishID, &li.Quantity, &price); err != nil {
			return nil, storeErr("read", err)
		}
		if li.Price, err = decimal.NewFromString(price); err != nil {
			return nil, storeErr("read", err)
		}
		o.Items = append(o.Items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read", err)
	}
	return &o, nil
}
