// Package journey enforces the legal order of production activities on a batch.
//
// The machine only answers whether a sequence is legally possible. Whether a batch
// is organic is decided by the ledger read path, never here.
package journey

import (
	"farmtrace/statemachine"
)

// State is the position of a batch in its production journey.
type State string

const (
	Idle       State = "idle"
	Seeding    State = "seeding"
	Watering   State = "watering"
	Fertilizer State = "fertilizer"
	Pesticide  State = "pesticide"
	Harvest    State = "harvest"
	Packed     State = "packed"
	Shipped    State = "shipped"
)

// Activity is an event recorded against a batch.
type Activity string

const (
	ActivitySeeding    Activity = "SEEDING"
	ActivityWatering   Activity = "WATERING"
	ActivityFertilizer Activity = "FERTILIZER"
	ActivityPesticide  Activity = "PESTICIDE"
	ActivityHarvest    Activity = "HARVEST"
	ActivityPacked     Activity = "PACKED"
	ActivityShipped    Activity = "SHIPPED"
)

type edge = statemachine.Edge[State, Activity]

var table = statemachine.NewTable(
	statemachine.Row[State, Activity]{From: Idle, Edges: []edge{
		{Event: ActivitySeeding, To: Seeding},
	}},
	statemachine.Row[State, Activity]{From: Seeding, Edges: []edge{
		{Event: ActivityWatering, To: Watering},
	}},
	statemachine.Row[State, Activity]{From: Watering, Edges: []edge{
		{Event: ActivityWatering, To: Watering},
		{Event: ActivityFertilizer, To: Fertilizer},
	}},
	statemachine.Row[State, Activity]{From: Fertilizer, Edges: []edge{
		{Event: ActivityFertilizer, To: Fertilizer},
		{Event: ActivityPesticide, To: Pesticide},
		{Event: ActivityHarvest, To: Harvest},
	}},
	statemachine.Row[State, Activity]{From: Pesticide, Edges: []edge{
		{Event: ActivityPesticide, To: Pesticide},
		{Event: ActivityHarvest, To: Harvest},
	}},
	statemachine.Row[State, Activity]{From: Harvest, Edges: []edge{
		{Event: ActivityPacked, To: Packed},
	}},
	statemachine.Row[State, Activity]{From: Packed, Edges: []edge{
		{Event: ActivityShipped, To: Shipped},
	}},
	statemachine.Row[State, Activity]{From: Shipped},
)

var labels = map[State]string{
	Idle:       "Not started",
	Seeding:    "Seeding",
	Watering:   "Watering",
	Fertilizer: "Fertilizing",
	Pesticide:  "Pest control",
	Harvest:    "Harvested",
	Packed:     "Packed",
	Shipped:    "Shipped",
}

var activities = []Activity{
	ActivitySeeding,
	ActivityWatering,
	ActivityFertilizer,
	ActivityPesticide,
	ActivityHarvest,
	ActivityPacked,
	ActivityShipped,
}

// AllowedActivities returns the activities legal from s, in declared order.
func AllowedActivities(s State) []Activity {
	return table.Events(s)
}

// CanDoActivity reports whether a is legal from s.
func CanDoActivity(s State, a Activity) bool {
	return table.Can(s, a)
}

// NextState returns the state after a, or s unchanged when a is not legal from s.
func NextState(s State, a Activity) State {
	return table.Next(s, a)
}

// Apply is NextState that reports illegal activities as statemachine.ErrIllegalTransition.
func Apply(s State, a Activity) (State, error) {
	return table.Apply(s, a)
}

// Replay folds a full activity history starting from Idle.
func Replay(history []Activity) (State, error) {
	return table.Replay(Idle, history)
}

// IsComplete reports whether the batch has shipped.
func IsComplete(s State) bool {
	return s == Shipped
}

// HumanLabel returns the display string for s. Unknown states render as-is.
func HumanLabel(s State) string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// States lists every journey state in declared order.
func States() []State {
	return table.States()
}

// Activities lists every activity type.
func Activities() []Activity {
	return append([]Activity(nil), activities...)
}

// ParseState accepts the lower-case state names.
func ParseState(s string) (State, bool) {
	st := State(s)
	return st, table.Known(st)
}

// ParseActivity accepts the upper-case activity names. It is the check every write
// path applies before an activity reaches the ledger.
func ParseActivity(s string) (Activity, bool) {
	a := Activity(s)
	for _, known := range activities {
		if known == a {
			return a, true
		}
	}
	return "", false
}
