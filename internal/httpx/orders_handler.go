package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/resto-orders/internal/auth"
	kafkax "github.com/ariefcatur/resto-orders/internal/kafka"
	"github.com/ariefcatur/resto-orders/internal/orders"
	"github.com/ariefcatur/resto-orders/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	kafkago "github.com/segmentio/kafka-go"
)

type OrderValidator interface {
	Validate(ctx context.Context, req orders.CreateRequest) (orders.ValidOrder, error)
}

type OrderStore interface {
	Create(ctx context.Context, o orders.ValidOrder) (orders.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, to orders.Status) (orders.Order, error)
}

type OrderReader interface {
	Get(ctx context.Context, orderID int64) (*orders.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]orders.Order, error)
}

type Menu interface {
	ListAvailable(ctx context.Context) ([]orders.Dish, error)
	AddDish(ctx context.Context, d orders.NewDish) (orders.Dish, error)
	Restock(ctx context.Context, dishID int64, delta int) (orders.Dish, error)
}

// IdempotencyStore is satisfied by *redisx.Idempotency.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (int64, bool, error)
	Remember(ctx context.Context, key string, orderID int64) error
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrdersHandler struct {
	Validator OrderValidator
	Store     OrderStore
	Reader    OrderReader
	Menu      Menu
	Idem      IdempotencyStore
	Created   Publisher
	Status    Publisher
	Service   string
	Timeout   time.Duration
}

type CreateOrderResp struct {
	OrderID int64         `json:"order_id"`
	Status  orders.Status `json:"status"`
	Message string        `json:"message"`
}

type unavailableResp struct {
	Error       string             `json:"error"`
	Unavailable []orders.Shortfall `json:"unavailable,omitempty"`
}

type statusReq struct {
	Status orders.Status `json:"status"`
}

type restockReq struct {
	Delta int `json:"delta"`
}

func (h *OrdersHandler) Register(r chi.Router, session func(http.Handler) http.Handler) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderId}", h.getOrder)
	r.Get("/menu", h.listMenu)

	r.Group(func(r chi.Router) {
		r.Use(session)
		r.With(RequireRole(auth.RoleChef, auth.RoleManager)).Put("/orders/{orderId}/status", h.updateStatus)
		r.With(RequireRole(auth.RoleManager)).Post("/menu", h.addDish)
		r.With(RequireRole(auth.RoleManager)).Put("/menu/{dishId}/stock", h.restock)
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.Idem != nil {
		if o := h.replay(ctx, idemKey); o != nil {
			writeJSON(w, http.StatusOK, CreateOrderResp{OrderID: o.ID, Status: o.Status, Message: "order already placed"})
			return
		}
	}

	valid, err := h.Validator.Validate(ctx, req)
	if err != nil {
		h.rejectOrder(w, r, err)
		return
	}
	o, err := h.Store.Create(ctx, valid)
	if err != nil {
		h.rejectOrder(w, r, err)
		return
	}

	if idemKey != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, idemKey, o.ID); err != nil {
			slog.WarnContext(ctx, "idempotency key not stored", "order_id", o.ID, "err", err)
		}
	}
	h.publish(r, h.Created, orders.EventOrderCreated, o.ID, orders.NewOrderCreatedPayload(o))

	writeJSON(w, http.StatusCreated, CreateOrderResp{OrderID: o.ID, Status: o.Status, Message: "order created"})
}

// replay returns the order an earlier request with the same key created.
// Any redis or read failure falls through to normal processing.
func (h *OrdersHandler) replay(ctx context.Context, key string) *orders.Order {
	id, ok, err := h.Idem.Lookup(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "idempotency lookup failed", "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	o, err := h.Reader.Get(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "idempotent replay read failed", "order_id", id, "err", err)
		return nil
	}
	return o
}

func (h *OrdersHandler) rejectOrder(w http.ResponseWriter, r *http.Request, err error) {
	var ve *orders.ValidationError
	switch {
	case errors.As(err, &ve) && errors.Is(err, orders.ErrDishUnavailable):
		writeJSON(w, http.StatusBadRequest, unavailableResp{Error: "unavailable dishes in order", Unavailable: ve.Shortfalls})
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "invalid order: "+ve.Reason)
	default:
		internalError(w, r, "failed to create order", err)
	}
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "orderId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Reader.Get(ctx, id)
	if err != nil {
		internalError(w, r, "failed to read order", err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "orderId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req statusReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Store.UpdateStatus(ctx, id, req.Status)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrMalformed):
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
		return
	default:
		internalError(w, r, "failed to update order", err)
		return
	}

	u, _ := UserFrom(r.Context())
	h.publish(r, h.Status, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:   o.ID,
		Status:    o.Status,
		ChangedBy: u.ID,
		ChangedAt: o.UpdatedAt,
	})
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listMenu(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	ds, err := h.Menu.ListAvailable(ctx)
	if err != nil {
		internalError(w, r, "failed to load menu", err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *OrdersHandler) addDish(w http.ResponseWriter, r *http.Request) {
	var req orders.NewDish
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	d, err := h.Menu.AddDish(ctx, req)
	if errors.Is(err, orders.ErrMalformed) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		internalError(w, r, "failed to add dish", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *OrdersHandler) restock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "dishId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid dish id")
		return
	}
	var req restockReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	d, err := h.Menu.Restock(ctx, id, req.Delta)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, d)
	case errors.Is(err, orders.ErrDishNotFound):
		writeError(w, http.StatusNotFound, "dish not found")
	case errors.Is(err, orders.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		internalError(w, r, "failed to update stock", err)
	}
}

// publish emits an event after the change is committed. Failures are logged
// by the producer and never fail the request.
func (h *OrdersHandler) publish(r *http.Request, p Publisher, eventType string, orderID int64, payload any) {
	if p == nil {
		return
	}
	id := strconv.FormatInt(orderID, 10)
	ev, err := orders.NewEnvelope(eventType, h.Service, middleware.GetReqID(r.Context()), id, payload)
	if err != nil {
		slog.ErrorContext(r.Context(), "encode event", "event_type", eventType, "order_id", orderID, "err", err)
		return
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
