package kitchen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/resto-orders/internal/kafka"
	"github.com/ariefcatur/resto-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

// Dedup is satisfied by *redisx.Dedup.
type Dedup interface {
	SeenBefore(ctx context.Context, id string) (bool, error)
}

// Service turns order.created events into kitchen tickets.
type Service struct {
	Dedup Dedup
	Log   *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// HandleOrderCreated is installed as the consumer handler. Events of other
// types and undecodable events are acknowledged and skipped; a redelivered
// event is printed once. Only dedup failures are returned for retry.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.logger().Warn("skipping undecodable event", "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	seen, err := s.Dedup.SeenBefore(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		s.logger().Warn("skipping order.created with bad payload", "event_id", env.EventID, "offset", m.Offset, "err", err)
		return nil
	}

	s.printTicket(ctx, env, p)
	return nil
}

func (s *Service) printTicket(ctx context.Context, env orders.Envelope, p orders.OrderCreatedPayload) {
	lines := make([]any, 0, len(p.Items))
	for i, it := range p.Items {
		lines = append(lines, slog.Group(fmt.Sprintf("line_%d", i+1),
			slog.Int64("dish_id", it.DishID),
			slog.Int("quantity", it.Quantity),
		))
	}
	attrs := []any{
		slog.Int64("order_id", p.OrderID),
		slog.Int64("user_id", p.UserID),
		slog.String("trace_id", env.TraceID),
		slog.String("total", p.Total.StringFixed(2)),
		slog.Group("dishes", lines...),
	}
	if p.SpecialRequests != "" {
		attrs = append(attrs, slog.String("special_requests", p.SpecialRequests))
	}
	s.logger().InfoContext(ctx, "kitchen ticket", attrs...)
}
