// Package order is the order lifecycle machine. It shares nothing with the batch
// journey except the table type.
package order

import (
	"farmtrace/statemachine"
)

// State is the position of an order in its lifecycle.
type State string

const (
	Pending   State = "pending"
	Confirmed State = "confirmed"
	Shipped   State = "shipped"
	Delivered State = "delivered"
	Completed State = "completed"
	Cancelled State = "cancelled"
)

// Event moves an order between states.
type Event string

const (
	EventConfirm  Event = "CONFIRM"
	EventCancel   Event = "CANCEL"
	EventShip     Event = "SHIP"
	EventDeliver  Event = "DELIVER"
	EventComplete Event = "COMPLETE"
)

type edge = statemachine.Edge[State, Event]

var table = statemachine.NewTable(
	statemachine.Row[State, Event]{From: Pending, Edges: []edge{
		{Event: EventConfirm, To: Confirmed},
		{Event: EventCancel, To: Cancelled},
	}},
	statemachine.Row[State, Event]{From: Confirmed, Edges: []edge{
		{Event: EventShip, To: Shipped},
		{Event: EventCancel, To: Cancelled},
	}},
	statemachine.Row[State, Event]{From: Shipped, Edges: []edge{
		{Event: EventDeliver, To: Delivered},
	}},
	statemachine.Row[State, Event]{From: Delivered, Edges: []edge{
		{Event: EventComplete, To: Completed},
	}},
	statemachine.Row[State, Event]{From: Completed},
	statemachine.Row[State, Event]{From: Cancelled},
)

var labels = map[State]string{
	Pending:   "Pending",
	Confirmed: "Confirmed",
	Shipped:   "Shipped",
	Delivered: "Delivered",
	Completed: "Completed",
	Cancelled: "Cancelled",
}

// CanTransition reports whether e is legal from s.
func CanTransition(s State, e Event) bool {
	return table.Can(s, e)
}

// NextState returns the state after e, or s unchanged when e is not legal from s.
func NextState(s State, e Event) State {
	return table.Next(s, e)
}

// Apply is NextState that reports illegal events as statemachine.ErrIllegalTransition.
func Apply(s State, e Event) (State, error) {
	return table.Apply(s, e)
}

// Replay folds events starting from Pending.
func Replay(events []Event) (State, error) {
	return table.Replay(Pending, events)
}

// AllowedEvents returns the events legal from s, in declared order.
func AllowedEvents(s State) []Event {
	return table.Events(s)
}

// IsFinalState reports whether no event can leave s.
func IsFinalState(s State) bool {
	return s == Completed || s == Cancelled
}

// HumanLabel returns the display string for s. Unknown states render as-is.
func HumanLabel(s State) string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// States lists every order state in declared order.
func States() []State {
	return table.States()
}

// ParseState accepts the lower-case state names.
func ParseState(s string) (State, bool) {
	st := State(s)
	return st, table.Known(st)
}

// ParseEvent accepts the upper-case event names.
func ParseEvent(s string) (Event, bool) {
	switch e := Event(s); e {
	case EventConfirm, EventCancel, EventShip, EventDeliver, EventComplete:
		return e, true
	}
	return "", false
}
