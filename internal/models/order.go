package models

import (
	"fmt"
	"time"

	"farmtrace/statemachine/order"
)

// Order represents a buyer order for a batch.
type Order struct {
	ID           string      `json:"id"`
	BatchID      string      `json:"batch_id"`
	BuyerID      string      `json:"buyer_id"`
	CurrentState order.State `json:"current_state"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func NewOrder(id, batchID, buyerID string) *Order {
	return &Order{
		ID:           id,
		BatchID:      batchID,
		BuyerID:      buyerID,
		CurrentState: order.Pending,
		UpdatedAt:    time.Now().UTC(),
	}
}

// Advance applies e, leaving the order untouched when e is illegal.
func (o *Order) Advance(e order.Event) error {
	next, err := order.Apply(o.CurrentState, e)
	if err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}
	o.CurrentState = next
	o.UpdatedAt = time.Now().UTC()
	return nil
}
