package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundcord/soundcord/internal/core"
)

var allStates = []State{
	StateConnecting, StateIdle, StatePlaying, StatePaused,
	StateBuffering, StateStolen, StateClosed,
}

// Every edge in the event table must land on a declared state, and the
// terminal state must have no outgoing edges.
func TestEventTableClosure(t *testing.T) {
	declared := make(map[State]bool, len(allStates))
	for _, s := range allStates {
		declared[s] = true
	}

	for from, edges := range eventEdges {
		assert.True(t, declared[from], "undeclared source state %d", from)
		assert.NotEqual(t, StateClosed, from, "terminal state must not have edges")
		for ev, to := range edges {
			assert.True(t, declared[to], "edge %s/%s lands on undeclared state", from, ev)
		}
	}
}

// DeviceSuperseded must steal every non-terminal state except Stolen itself,
// so the transition (and its notification) cannot fire twice.
func TestEverythingStealable(t *testing.T) {
	for _, from := range allStates {
		if from == StateClosed || from == StateStolen {
			_, ok := eventEdges[from][core.EventDeviceSuperseded]
			assert.False(t, ok, "%s must not have a steal edge", from)
			continue
		}
		to, ok := eventEdges[from][core.EventDeviceSuperseded]
		require.True(t, ok, "%s is missing its steal edge", from)
		assert.Equal(t, StateStolen, to)
	}
}

func TestCommandVerdicts(t *testing.T) {
	cases := []struct {
		state State
		cmd   core.CommandKind
		want  cmdVerdict
	}{
		{StateIdle, core.CommandPlay, verdictForward},
		{StateIdle, core.CommandPause, verdictNoop},
		{StateIdle, core.CommandResume, verdictReject},
		{StateIdle, core.CommandSkip, verdictReject},
		{StateIdle, core.CommandSetVolume, verdictForward},

		{StatePlaying, core.CommandPlay, verdictForward},
		{StatePlaying, core.CommandPause, verdictForward},
		{StatePlaying, core.CommandResume, verdictNoop},
		{StatePlaying, core.CommandSkip, verdictForward},

		{StatePaused, core.CommandResume, verdictForward},
		{StatePaused, core.CommandPause, verdictNoop},

		{StateBuffering, core.CommandPause, verdictForward},
		{StateBuffering, core.CommandResume, verdictNoop},

		{StateStolen, core.CommandPlay, verdictReclaim},
		{StateStolen, core.CommandPause, verdictReject},
		{StateStolen, core.CommandSkip, verdictReject},
		{StateStolen, core.CommandSetVolume, verdictReject},

		{StateConnecting, core.CommandPlay, verdictReject},
		{StateConnecting, core.CommandPause, verdictReject},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, verdictFor(tc.state, tc.cmd),
			"state %s command %s", tc.state, tc.cmd)
	}
}

func TestStateStrings(t *testing.T) {
	for _, s := range allStates {
		assert.NotEqual(t, "unknown", s.String())
	}
	assert.Equal(t, "unknown", State(99).String())
}
