package domain

type (
	// RoomID identifies one call-like room hosting its own playback session.
	RoomID string
	// ChannelID identifies the voice destination inside a room.
	ChannelID string
)
