package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderPlaced    Type = "order.placed"
	OrderCancelled Type = "order.cancelled"
	StockChanged   Type = "product.stock_changed"
)

type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// Event is the envelope published after a committed inventory-affecting change.
// OrderID is uuid.Nil for stock changes outside an order.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	OrderID    uuid.UUID `json:"order_id"`
	UserID     uuid.UUID `json:"user_id"`
	Lines      []Line    `json:"lines"`
	OccurredAt time.Time `json:"occurred_at"`
}

func New(t Type, orderID, userID uuid.UUID, lines []Line) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OrderID:    orderID,
		UserID:     userID,
		Lines:      lines,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) ProductIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(e.Lines))
	ids := make([]uuid.UUID, 0, len(e.Lines))
	for _, l := range e.Lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
