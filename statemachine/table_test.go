package statemachine

import (
	"errors"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light string
type signal string

func newLightTable() *Table[light, signal] {
	return NewTable(
		Row[light, signal]{From: "red", Edges: []Edge[light, signal]{
			{Event: "GO", To: "green"},
		}},
		Row[light, signal]{From: "green", Edges: []Edge[light, signal]{
			{Event: "SLOW", To: "amber"},
			{Event: "STOP", To: "red"},
		}},
		Row[light, signal]{From: "amber", Edges: []Edge[light, signal]{
			{Event: "STOP", To: "red"},
		}},
		Row[light, signal]{From: "off"},
	)
}

func TestTableEventsKeepDeclaredOrder(t *testing.T) {
	tbl := newLightTable()
	assert.Equal(t, []signal{"SLOW", "STOP"}, tbl.Events("green"))
	assert.Empty(t, tbl.Events("off"))
	assert.Empty(t, tbl.Events("unknown"))
}

func TestTableEventsReturnsCopy(t *testing.T) {
	tbl := newLightTable()
	events := tbl.Events("green")
	events[0] = "MUTATED"
	assert.Equal(t, []signal{"SLOW", "STOP"}, tbl.Events("green"))
}

func TestTableNextIsNoOpOnUndefined(t *testing.T) {
	tbl := newLightTable()
	assert.Equal(t, light("green"), tbl.Next("red", "GO"))
	assert.Equal(t, light("red"), tbl.Next("red", "STOP"))
	assert.Equal(t, light("nowhere"), tbl.Next("nowhere", "GO"))
}

func TestTableApplyReturnsIllegalTransition(t *testing.T) {
	tbl := newLightTable()

	got, err := tbl.Apply("red", "SLOW")
	require.Error(t, err)
	assert.Equal(t, light("red"), got)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeIllegalTransition, appErr.TextCode)
	assert.Contains(t, err.Error(), `"SLOW"`)

	got, err = tbl.Apply("red", "GO")
	require.NoError(t, err)
	assert.Equal(t, light("green"), got)
}

func TestTableTerminal(t *testing.T) {
	tbl := newLightTable()
	assert.True(t, tbl.IsTerminal("off"))
	assert.False(t, tbl.IsTerminal("red"))
	assert.False(t, tbl.IsTerminal("unknown"))
}

func TestTableReplayStopsAtFirstIllegalStep(t *testing.T) {
	tbl := newLightTable()

	end, err := tbl.Replay("red", []signal{"GO", "SLOW", "STOP"})
	require.NoError(t, err)
	assert.Equal(t, light("red"), end)

	end, err = tbl.Replay("red", []signal{"GO", "GO"})
	require.Error(t, err)
	assert.Equal(t, light("green"), end)
	assert.Contains(t, err.Error(), "step 1")
}

func TestNewTablePanicsOnDuplicates(t *testing.T) {
	assert.Panics(t, func() {
		NewTable(
			Row[light, signal]{From: "red"},
			Row[light, signal]{From: "red"},
		)
	})
	assert.Panics(t, func() {
		NewTable(Row[light, signal]{From: "red", Edges: []Edge[light, signal]{
			{Event: "GO", To: "green"},
			{Event: "GO", To: "amber"},
		}})
	})
}
