package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ariefcatur/resto-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

const (
	lockDishSQL      = `SELECT quantity FROM dishes WHERE id = $1 FOR UPDATE`
	decrementDishSQL = `UPDATE dishes SET quantity = quantity - $2, updated_at = NOW() WHERE id = $1`
	insertOrderSQL   = `INSERT INTO orders(user_id, status, special_requests)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`
	insertItemSQL = `INSERT INTO order_items(order_id, dish_id, quantity, price)
		VALUES ($1, $2, $3, $4::numeric)
		RETURNING id`
	lockOrderSQL    = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`
	restockOrderSQL = `UPDATE dishes d
		SET quantity = d.quantity + oi.qty, updated_at = NOW()
		FROM (SELECT dish_id, SUM(quantity) AS qty FROM order_items WHERE order_id = $1 GROUP BY dish_id) oi
		WHERE d.id = oi.dish_id`
	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`
)

// Store persists orders. Every mutation runs inside a single transaction.
type Store struct{ DB postgres.DB }

// Create locks the stock row of every dish in the order, decrements it, and
// inserts the header and its line items. Nothing is committed unless every
// step succeeds. A dish that ran out between validation and this call yields
// a *ValidationError wrapping ErrDishUnavailable.
func (s *Store) Create(ctx context.Context, o ValidOrder) (Order, error) {
	if o.UserID <= 0 || len(o.Items) == 0 {
		return Order{}, malformed("order must have an owner and at least one dish")
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Order{}, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := reserveStock(ctx, tx, o.Items); err != nil {
		return Order{}, err
	}

	out := Order{
		UserID:          o.UserID,
		Status:          StatusPending,
		SpecialRequests: o.SpecialRequests,
		Items:           make([]LineItem, 0, len(o.Items)),
	}
	err = tx.QueryRow(ctx, insertOrderSQL, o.UserID, string(StatusPending), o.SpecialRequests).
		Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return Order{}, storeErr("insert order", err)
	}

	for _, it := range o.Items {
		li := LineItem{OrderID: out.ID, DishID: it.DishID, Quantity: it.Quantity, Price: it.Price}
		if err := tx.QueryRow(ctx, insertItemSQL, out.ID, it.DishID, it.Quantity, it.Price.String()).Scan(&li.ID); err != nil {
			return Order{}, storeErr("insert order item", err)
		}
		out.Items = append(out.Items, li)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, storeErr("commit", err)
	}
	return out, nil
}

// reserveStock takes the row locks in ascending dish id order so two
// overlapping orders cannot deadlock each other.
func reserveStock(ctx context.Context, tx pgx.Tx, items []ValidItem) error {
	demand := map[int64]int{}
	for _, it := range items {
		if it.Quantity <= 0 || it.Quantity > maxQuantity {
			return malformed("dish %d: quantity %d out of range", it.DishID, it.Quantity)
		}
		demand[it.DishID] += it.Quantity
		if demand[it.DishID] > maxQuantity {
			return malformed("dish %d: total quantity exceeds %d", it.DishID, maxQuantity)
		}
	}
	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var shortfalls []Shortfall
	for _, id := range ids {
		var stock int
		err := tx.QueryRow(ctx, lockDishSQL, id).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			shortfalls = append(shortfalls, Shortfall{DishID: id, Requested: demand[id]})
			continue
		}
		if err != nil {
			return storeErr("lock dish", err)
		}
		if stock < demand[id] {
			shortfalls = append(shortfalls, Shortfall{DishID: id, Requested: demand[id], Available: stock})
			continue
		}
		if _, err := tx.Exec(ctx, decrementDishSQL, id, demand[id]); err != nil {
			return storeErr("decrement stock", err)
		}
	}
	if len(shortfalls) > 0 {
		return unavailable(shortfalls)
	}
	return nil
}

// UpdateStatus moves an order along its lifecycle and advances updated_at.
// Cancelling returns the order's quantities to stock.
func (s *Store) UpdateStatus(ctx context.Context, orderID int64, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, malformed("unknown status %q", to)
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Order{}, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from string
	err = tx.QueryRow(ctx, lockOrderSQL, orderID).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, storeErr("lock order", err)
	}
	if !CanTransition(Status(from), to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if to == StatusCancelled {
		if _, err := tx.Exec(ctx, restockOrderSQL, orderID); err != nil {
			return Order{}, storeErr("restock", err)
		}
	}
	if _, err := tx.Exec(ctx, updateStatusSQL, orderID, string(to)); err != nil {
		return Order{}, storeErr("update status", err)
	}

	o, err := getOrder(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, storeErr("commit", err)
	}
	return *o, nil
}
