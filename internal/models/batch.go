package models

import (
	"fmt"
	"time"

	"farmtrace/statemachine/journey"
)

// CropInfo is descriptive crop metadata carried by a batch.
type CropInfo struct {
	Name      string `json:"name"`
	Variety   string `json:"variety,omitempty"`
	FieldID   string `json:"field_id,omitempty"`
	SowedArea string `json:"sowed_area,omitempty"`
}

// Activity is one recorded production event. Never modified after creation.
type Activity struct {
	Type        journey.Activity `json:"type"`
	Timestamp   time.Time        `json:"timestamp"`
	ProductName string           `json:"product_name,omitempty"`
	Quantity    float64          `json:"quantity,omitempty"`
	IsOrganic   bool             `json:"is_organic"`
	EvidenceRef string           `json:"evidence_ref,omitempty"` // e.g. photo hash
}

// Batch is a tracked production lot from sowing to shipment.
type Batch struct {
	ID           string        `json:"id"`
	Crop         CropInfo      `json:"crop"`
	CurrentState journey.State `json:"current_state"`
	Activities   []Activity    `json:"activities"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewBatch creates a batch in the idle state.
func NewBatch(id string, crop CropInfo) *Batch {
	return &Batch{
		ID:           id,
		Crop:         crop,
		CurrentState: journey.Idle,
		CreatedAt:    time.Now().UTC(),
	}
}

// Append records a legal activity and advances the batch state.
// An illegal activity leaves the batch untouched.
func (b *Batch) Append(a Activity) error {
	next, err := journey.Apply(b.CurrentState, a.Type)
	if err != nil {
		return fmt.Errorf("batch %s: %w", b.ID, err)
	}
	b.Activities = append(b.Activities, a)
	b.CurrentState = next
	return nil
}

// Verify checks that the recorded history replays to the current state.
func (b *Batch) Verify() error {
	history := make([]journey.Activity, 0, len(b.Activities))
	for _, a := range b.Activities {
		history = append(history, a.Type)
	}
	end, err := journey.Replay(history)
	if err != nil {
		return fmt.Errorf("batch %s has an illegal history: %w", b.ID, err)
	}
	if end != b.CurrentState {
		return fmt.Errorf("batch %s history ends in %q but current state is %q", b.ID, end, b.CurrentState)
	}
	return nil
}
