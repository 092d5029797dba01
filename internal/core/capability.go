package core

import (
	"context"
	"time"

	"github.com/soundcord/soundcord/internal/domain"
)

// Token is a bearer credential for the shared streaming identity.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// CredentialProvider supplies a currently valid token for the shared identity.
// Refresh-on-expiry happens behind this interface.
type CredentialProvider interface {
	CurrentToken(ctx context.Context) (Token, error)
}

// SourceClient authenticates as one virtual playback device against the
// streaming service, accepts transport control and produces audio frames
// plus playback events.
// Owned by exactly one session; the session must Close() it.
type SourceClient interface {
	Connect(ctx context.Context) error
	SendControl(ctx context.Context, cmd Command) error
	// NextFrame blocks until the next frame is available.
	// Returns io.EOF when the current stream ends.
	NextFrame(ctx context.Context) (AudioFrame, error)
	// NextEvent blocks until the next playback event is available.
	NextEvent(ctx context.Context) (PlaybackEvent, error)
	Close() error
}

// VoiceTransport is one room's live voice connection.
// Owned by exactly one session; the session must Close() it.
type VoiceTransport interface {
	Connect(ctx context.Context) error
	Submit(ctx context.Context, frame AudioFrame) error
	Close() error
}

// SourceFactory builds a fresh SourceClient for one session.
// A session calls it again on reconnect and reclaim, with a fresh token.
type SourceFactory func(token Token, deviceName string) (SourceClient, error)

// TransportFactory builds the VoiceTransport for a room's voice destination.
type TransportFactory func(channel domain.ChannelID) (VoiceTransport, error)
