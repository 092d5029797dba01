package core

import (
	"time"

	"github.com/soundcord/soundcord/internal/domain"
)

type EventKind int

const (
	EventTrackChanged EventKind = iota
	EventPositionUpdate
	EventRemotePause
	EventStreamEnded
	EventDeviceSuperseded
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventTrackChanged:
		return "track_changed"
	case EventPositionUpdate:
		return "position_update"
	case EventRemotePause:
		return "remote_pause"
	case EventStreamEnded:
		return "stream_ended"
	case EventDeviceSuperseded:
		return "device_superseded"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// PlaybackEvent is a tagged variant emitted by a source client.
// Events are delivered at-most-once and in emission order per session.
type PlaybackEvent struct {
	Kind     EventKind
	Track    *domain.TrackInfo // EventTrackChanged
	Position time.Duration     // EventPositionUpdate
	Err      error             // EventConnectionLost
}
