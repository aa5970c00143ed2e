package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AppendNumbersFromOne(t *testing.T) {
	var m Memory
	root, err := m.Append(Event{Type: EventSessionStarted})
	require.NoError(t, err)
	child, err := m.Append(Event{ParentID: Ptr(root), Type: EventCycleStarted})
	require.NoError(t, err)

	assert.Equal(t, int64(1), root)
	assert.Equal(t, int64(2), child)
	assert.Equal(t, []string{EventSessionStarted, EventCycleStarted}, m.Types())
	assert.Equal(t, root, *m.Events()[1].ParentID)
}

func TestPtr_ZeroIsNil(t *testing.T) {
	assert.Nil(t, Ptr(0))
	assert.Equal(t, int64(7), *Ptr(7))
}

func TestNop(t *testing.T) {
	id, err := Nop{}.Append(Event{Type: EventCycleStarted})
	assert.NoError(t, err)
	assert.Zero(t, id)
}
