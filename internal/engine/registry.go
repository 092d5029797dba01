package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/soundcord/soundcord/internal/config"
	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

// Registry is the single point of concurrency control over the room→session
// mapping. It exclusively owns every session and both of its capability
// handles. The lock is scoped to map mutation only; capability construction
// happens outside it behind a reserved entry.
type Registry struct {
	mu sync.Mutex
	// nil value means a join for that room is in flight.
	entries map[domain.RoomID]*Session

	creds        core.CredentialProvider
	newSource    core.SourceFactory
	newTransport core.TransportFactory
	deviceName   string
	cfg          config.EngineConfig
	hub          *Hub
}

func NewRegistry(
	creds core.CredentialProvider,
	newSource core.SourceFactory,
	newTransport core.TransportFactory,
	deviceName string,
	cfg config.EngineConfig,
) *Registry {
	return &Registry{
		entries:      make(map[domain.RoomID]*Session),
		creds:        creds,
		newSource:    newSource,
		newTransport: newTransport,
		deviceName:   deviceName,
		cfg:          cfg,
		hub:          NewHub(),
	}
}

// Hub exposes the outward notification stream.
func (r *Registry) Hub() *Hub { return r.hub }

// Join creates the session for a room and starts its relay loop. It fails
// fast when the room already has a live session or no token can be obtained.
func (r *Registry) Join(ctx context.Context, room domain.RoomID, channel domain.ChannelID) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.entries[room]; ok {
		r.mu.Unlock()
		return nil, core.ErrAlreadyJoined
	}
	r.entries[room] = nil
	r.mu.Unlock()

	sess, err := r.start(ctx, room, channel)

	r.mu.Lock()
	if err != nil {
		delete(r.entries, room)
		r.mu.Unlock()
		return nil, err
	}
	r.entries[room] = sess
	r.mu.Unlock()

	// Launch only after the entry is committed, so a handshake that fails
	// immediately still finds its own entry to remove.
	sess.launch()

	log.Info().
		Str("module", "engine.registry").
		Str("room", string(room)).
		Str("channel", string(channel)).
		Msg("session joined")
	return sess, nil
}

func (r *Registry) start(ctx context.Context, room domain.RoomID, channel domain.ChannelID) (*Session, error) {
	token, err := r.creds.CurrentToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", core.ErrCapabilityUnavailable, err)
	}
	source, err := r.newSource(token, r.deviceName)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %v", core.ErrCapabilityUnavailable, err)
	}
	transport, err := r.newTransport(channel)
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("%w: transport: %v", core.ErrCapabilityUnavailable, err)
	}

	sess := newSession(room, channel, source, transport, r.creds, r.newSource, r.deviceName, r.cfg, r.hub)
	sess.onClose = r.remove

	return sess, nil
}

// remove drops a session that closed itself (fatal failure, idle timeout).
// The instance check keeps a stale close from evicting a newer session.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if cur, ok := r.entries[s.room]; ok && cur == s {
		delete(r.entries, s.room)
	}
	r.mu.Unlock()
}

// Get returns the live session for a room.
func (r *Registry) Get(room domain.RoomID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[room]
	if !ok || s == nil {
		return nil, core.ErrNotFound
	}
	return s, nil
}

// Leave requests an orderly shutdown of the room's session and waits for its
// relay loop to exit.
func (r *Registry) Leave(room domain.RoomID) error {
	r.mu.Lock()
	s, ok := r.entries[room]
	if !ok || s == nil {
		r.mu.Unlock()
		return core.ErrNotFound
	}
	delete(r.entries, room)
	r.mu.Unlock()

	s.stop()
	log.Info().Str("module", "engine.registry").Str("room", string(room)).Msg("session left")
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.entries {
		if s != nil {
			n++
		}
	}
	return n
}

// SessionInfo is a read-only view for the control surface.
type SessionInfo struct {
	Room       domain.RoomID     `json:"room"`
	Channel    domain.ChannelID  `json:"channel"`
	State      string            `json:"state"`
	NowPlaying *domain.TrackInfo `json:"now_playing,omitempty"`
}

func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, s := range r.entries {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			Room:       s.Room(),
			Channel:    s.Channel(),
			State:      s.State().String(),
			NowPlaying: s.NowPlaying(),
		})
	}
	return out
}

// Shutdown stops every live session. Used on process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for room, s := range r.entries {
		if s != nil {
			sessions = append(sessions, s)
		}
		delete(r.entries, room)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}
