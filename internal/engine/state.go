package engine

import "github.com/soundcord/soundcord/internal/core"

// State is the per-session state machine value.
type State int32

const (
	StateConnecting State = iota
	StateIdle
	StatePlaying
	StatePaused
	StateBuffering
	StateStolen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateStolen:
		return "stolen"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// eventEdges holds the state transitions driven by producer events.
// Absent entries mean the event leaves the state unchanged. DeviceSuperseded
// has an edge from every non-terminal state; Stolen deliberately has none, so
// a repeated steal cannot re-fire the transition.
var eventEdges = map[State]map[core.EventKind]State{
	StateConnecting: {
		core.EventDeviceSuperseded: StateStolen,
	},
	StateIdle: {
		core.EventDeviceSuperseded: StateStolen,
	},
	StatePlaying: {
		core.EventRemotePause:      StatePaused,
		core.EventStreamEnded:      StateIdle,
		core.EventDeviceSuperseded: StateStolen,
	},
	StatePaused: {
		core.EventStreamEnded:      StateIdle,
		core.EventDeviceSuperseded: StateStolen,
	},
	StateBuffering: {
		core.EventRemotePause:      StatePaused,
		core.EventStreamEnded:      StateIdle,
		core.EventDeviceSuperseded: StateStolen,
	},
}

type cmdVerdict int

const (
	verdictReject cmdVerdict = iota
	verdictForward
	verdictNoop
	verdictReclaim
)

// commandVerdicts decides, per state, what happens to an incoming command.
// Disconnect is handled before the table and is accepted in every live state.
var commandVerdicts = map[State]map[core.CommandKind]cmdVerdict{
	StateConnecting: {},
	StateIdle: {
		core.CommandPlay:      verdictForward,
		core.CommandPause:     verdictNoop,
		core.CommandSetVolume: verdictForward,
	},
	StatePlaying: {
		core.CommandPlay:      verdictForward,
		core.CommandPause:     verdictForward,
		core.CommandResume:    verdictNoop,
		core.CommandSkip:      verdictForward,
		core.CommandSetVolume: verdictForward,
	},
	StatePaused: {
		core.CommandPlay:      verdictForward,
		core.CommandPause:     verdictNoop,
		core.CommandResume:    verdictForward,
		core.CommandSkip:      verdictForward,
		core.CommandSetVolume: verdictForward,
	},
	StateBuffering: {
		core.CommandPlay:      verdictForward,
		core.CommandPause:     verdictForward,
		core.CommandResume:    verdictNoop,
		core.CommandSkip:      verdictForward,
		core.CommandSetVolume: verdictForward,
	},
	StateStolen: {
		core.CommandPlay: verdictReclaim,
	},
}

func verdictFor(s State, k core.CommandKind) cmdVerdict {
	return commandVerdicts[s][k]
}
