package core

type CommandKind int

const (
	CommandPlay CommandKind = iota
	CommandPause
	CommandResume
	CommandSkip
	CommandSetVolume
	CommandDisconnect
)

func (k CommandKind) String() string {
	switch k {
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandSkip:
		return "skip"
	case CommandSetVolume:
		return "set_volume"
	case CommandDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Command is a single transport-control request addressed to one room.
// Commands carry no session-spanning state.
type Command struct {
	Kind     CommandKind
	TrackRef string // CommandPlay
	Volume   int    // CommandSetVolume, 0..100
}
