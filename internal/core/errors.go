package core

import "errors"

var (
	// ErrAlreadyJoined is returned by Join when the room already has a live session.
	ErrAlreadyJoined = errors.New("room already has a live session")
	// ErrNotFound is returned when no live session exists for the room.
	ErrNotFound = errors.New("no active session for room")
	// ErrCapabilityUnavailable covers token or connection acquisition failures.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrInvalidCommand rejects a command that makes no sense in the current state.
	ErrInvalidCommand = errors.New("command not valid in current state")
	// ErrSessionClosed rejects anything addressed to a terminal session.
	ErrSessionClosed = errors.New("session gone")
)
