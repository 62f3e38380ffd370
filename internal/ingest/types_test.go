package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStateTransitions(t *testing.T) {
	cases := []struct {
		from, to JobState
		want     bool
	}{
		{StateCreated, StatePopulated, true},
		{StateCreated, StateTriggered, false},
		{StateCreated, StateCompleted, false},
		{StatePopulated, StatePopulated, true},
		{StatePopulated, StateTriggered, true},
		{StatePopulated, StateCompleted, false},
		{StateTriggered, StateCompleted, true},
		{StateTriggered, StateFailed, true},
		{StateTriggered, StatePopulated, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateTriggered, false},
		{JobState("bogus"), StatePopulated, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJobStateTerminal(t *testing.T) {
	assert.False(t, StateCreated.Terminal())
	assert.False(t, StatePopulated.Terminal())
	assert.False(t, StateTriggered.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
}
