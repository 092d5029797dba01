package core

import "github.com/soundcord/soundcord/internal/domain"

type NotificationKind int

const (
	NotifyNowPlaying NotificationKind = iota
	NotifyPlaybackStolen
	NotifySessionEnded
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyNowPlaying:
		return "now_playing"
	case NotifyPlaybackStolen:
		return "playback_stolen"
	case NotifySessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// EndReason tells a notification consumer why a session went away.
type EndReason string

const (
	EndReasonTransport  EndReason = "transport"
	EndReasonConnection EndReason = "connection"
	EndReasonIdle       EndReason = "idle"
	EndReasonLeft       EndReason = "left"
	EndReasonHandshake  EndReason = "handshake"
)

// Notification is an outward message for the user-facing surface of a room.
type Notification struct {
	Kind   NotificationKind  `json:"kind"`
	Room   domain.RoomID     `json:"room"`
	Track  *domain.TrackInfo `json:"track,omitempty"`
	Reason EndReason         `json:"reason,omitempty"`
}
