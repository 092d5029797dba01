package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soundcord/soundcord/internal/config"
	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

type commandReq struct {
	cmd   core.Command
	reply chan error
}

// Session bridges one room's voice destination to the shared streaming
// identity. It owns exactly one SourceClient and one VoiceTransport and is
// the sole mutator of its own state; everything external goes through
// Submit or through capability events.
type Session struct {
	id      string
	room    domain.RoomID
	channel domain.ChannelID

	cfg    config.EngineConfig
	logger zerolog.Logger

	creds      core.CredentialProvider
	newSource  core.SourceFactory
	deviceName string

	source    core.SourceClient
	transport core.VoiceTransport

	hub *Hub

	state atomic.Int32

	mu         sync.RWMutex
	nowPlaying *domain.TrackInfo

	commands chan commandReq
	frames   chan core.AudioFrame
	events   chan core.PlaybackEvent

	droppedFrames atomic.Uint64
	lastSubmitted atomic.Uint64

	// Relay-loop-only fields below; never touched outside run().
	awaiting    bool // Play/Resume accepted, Playing entered on next frame
	lastFrameAt time.Time
	lastActive  time.Time
	ended       bool

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup

	cancel  context.CancelFunc
	done    chan struct{}
	onClose func(*Session)
}

func newSession(
	room domain.RoomID,
	channel domain.ChannelID,
	source core.SourceClient,
	transport core.VoiceTransport,
	creds core.CredentialProvider,
	newSource core.SourceFactory,
	deviceName string,
	cfg config.EngineConfig,
	hub *Hub,
) *Session {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 20 * time.Millisecond
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 8
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 500 * time.Millisecond
	}
	if cfg.BackoffInterval <= 0 {
		cfg.BackoffInterval = 250 * time.Millisecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		room:    room,
		channel: channel,
		cfg:     cfg,
		logger: log.With().
			Str("module", "engine.session").
			Str("room", string(room)).
			Str("sid", id).
			Logger(),
		creds:      creds,
		newSource:  newSource,
		deviceName: deviceName,
		source:     source,
		transport:  transport,
		hub:        hub,
		commands:   make(chan commandReq, 1),
		frames:     make(chan core.AudioFrame, cfg.FrameBuffer),
		events:     make(chan core.PlaybackEvent, 16),
		done:       make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) Room() domain.RoomID       { return s.room }
func (s *Session) Channel() domain.ChannelID { return s.channel }

func (s *Session) State() State {
	return State(s.state.Load())
}

// NowPlaying returns a copy of the latest track descriptor, or nil.
func (s *Session) NowPlaying() *domain.TrackInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowPlaying.Clone()
}

// DroppedFrames reports how many buffered frames were discarded to keep
// end-to-end latency bounded.
func (s *Session) DroppedFrames() uint64 {
	return s.droppedFrames.Load()
}

// Submit enqueues a command and blocks until the state machine accepts or
// rejects it. The playback effect itself is asynchronous and observed via
// notifications. At most one command is in flight per session.
func (s *Session) Submit(ctx context.Context, cmd core.Command) error {
	req := commandReq{cmd: cmd, reply: make(chan error, 1)}
	select {
	case s.commands <- req:
	case <-s.done:
		return core.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return core.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch starts the relay loop. Callers must have published the session
// before launching; run can reach teardown on any schedule afterwards.
func (s *Session) launch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// stop requests an orderly shutdown and waits for the relay loop to exit.
func (s *Session) stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the relay loop has fully exited and both capability
// handles are released.
func (s *Session) Done() <-chan struct{} { return s.done }

// run is the relay loop: one goroutine per session multiplexing the frame
// buffer, the event feed, the command queue and the pacing tick.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	if err := s.handshake(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("handshake failed")
			s.finish(core.EndReasonHandshake)
		}
		return
	}

	s.setState(StateIdle)
	s.lastActive = time.Now()
	s.startPumps(ctx)

	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finish(core.EndReasonLeft)
			return

		case req := <-s.commands:
			if s.handleCommand(ctx, req) {
				return
			}

		case ev := <-s.events:
			if s.handleEvent(ctx, ev) {
				return
			}

		case <-ticker.C:
			if s.pace(ctx) {
				return
			}

		case <-idle.C:
			if s.State() != StatePlaying && time.Since(s.lastActive) >= s.cfg.IdleTimeout {
				s.logger.Info().Msg("idle for too long, disconnecting")
				s.finish(core.EndReasonIdle)
				return
			}
			idle.Reset(s.cfg.IdleTimeout)
		}
	}
}

// handshake connects both capability handles. The voice transport gets no
// retry (its failure is fatal by definition); the source gets a bounded
// number of attempts with exponential backoff.
func (s *Session) handshake(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("voice transport: %w", err)
	}
	if err := s.connectSource(ctx, s.cfg.ConnectRetries); err != nil {
		return fmt.Errorf("source client: %w", err)
	}
	return nil
}

func (s *Session) connectSource(ctx context.Context, tries uint64) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(s.cfg.BackoffInterval)),
			tries,
		),
		ctx,
	)
	return backoff.Retry(func() error { return s.source.Connect(ctx) }, bo)
}

func (s *Session) startPumps(ctx context.Context) {
	pumpCtx, cancel := context.WithCancel(ctx)
	s.pumpCancel = cancel
	src := s.source

	s.pumpWG.Add(2)
	go func() {
		defer s.pumpWG.Done()
		s.framePump(pumpCtx, src)
	}()
	go func() {
		defer s.pumpWG.Done()
		s.eventPump(pumpCtx, src)
	}()
}

func (s *Session) stopPumps() {
	if s.pumpCancel != nil {
		s.pumpCancel()
		s.pumpWG.Wait()
		s.pumpCancel = nil
	}
}

// framePump pulls frames from the source and hands them off through the
// bounded buffer. When the consumer cannot keep up the send throttles for up
// to one buffer's worth of audio; past that the oldest buffered frame is
// dropped so latency stays bounded. Frames are never reordered.
func (s *Session) framePump(ctx context.Context, src core.SourceClient) {
	throttle := time.Duration(s.cfg.FrameBuffer) * s.cfg.FrameInterval
	for {
		frame, err := src.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// End of the current stream; the next one starts on demand.
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.pushEvent(ctx, core.PlaybackEvent{Kind: core.EventConnectionLost, Err: err})
			return
		}

		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		case <-time.After(throttle):
			select {
			case <-s.frames:
				s.droppedFrames.Add(1)
			default:
			}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Session) eventPump(ctx context.Context, src core.SourceClient) {
	for {
		ev, err := src.NextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.pushEvent(ctx, core.PlaybackEvent{Kind: core.EventConnectionLost, Err: err})
			return
		}
		s.pushEvent(ctx, ev)
	}
}

func (s *Session) pushEvent(ctx context.Context, ev core.PlaybackEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// pace runs once per frame interval. It submits at most one frame so the
// transport is never fed faster than real time, and it detects producer
// stalls while playing.
func (s *Session) pace(ctx context.Context) (stop bool) {
	st := s.State()
	if st != StatePlaying && st != StateBuffering && !s.awaiting {
		return false
	}

	select {
	case frame := <-s.frames:
		if err := s.transport.Submit(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return false
			}
			// The output destination is gone; there is no recovery path.
			s.logger.Error().Err(err).Uint64("seq", frame.Seq).Msg("voice transport failed")
			s.finish(core.EndReasonTransport)
			return true
		}
		s.lastSubmitted.Store(frame.Seq)
		s.lastFrameAt = time.Now()
		s.lastActive = s.lastFrameAt
		if st != StatePlaying {
			s.awaiting = false
			s.setState(StatePlaying)
		}
	default:
		if st == StatePlaying && time.Since(s.lastFrameAt) > s.cfg.StallThreshold {
			s.logger.Warn().Msg("producer stalled, buffering")
			s.setState(StateBuffering)
		}
	}
	return false
}

func (s *Session) handleCommand(ctx context.Context, req commandReq) (stop bool) {
	cmd := req.cmd
	s.logger.Debug().Str("command", cmd.Kind.String()).Msg("command received")

	if cmd.Kind == core.CommandDisconnect {
		req.reply <- nil
		s.finish(core.EndReasonLeft)
		return true
	}

	switch verdictFor(s.State(), cmd.Kind) {
	case verdictNoop:
		req.reply <- nil

	case verdictReject:
		req.reply <- core.ErrInvalidCommand

	case verdictReclaim:
		// Play while stolen: accept, then try to take the identity back.
		req.reply <- nil
		return s.reclaim(ctx, cmd)

	case verdictForward:
		err := s.source.SendControl(ctx, cmd)
		if err != nil {
			s.logger.Error().Err(err).Str("command", cmd.Kind.String()).Msg("control call failed")
			req.reply <- err
			return false
		}
		switch cmd.Kind {
		case core.CommandPlay, core.CommandResume:
			s.awaiting = true
			s.lastFrameAt = time.Now()
			s.lastActive = s.lastFrameAt
		case core.CommandPause:
			s.awaiting = false
			s.setState(StatePaused)
		}
		req.reply <- nil
	}
	return false
}

func (s *Session) handleEvent(ctx context.Context, ev core.PlaybackEvent) (stop bool) {
	s.logger.Debug().Str("event", ev.Kind.String()).Msg("playback event")

	switch ev.Kind {
	case core.EventTrackChanged:
		s.setNowPlaying(ev.Track)
		s.publish(core.Notification{Kind: core.NotifyNowPlaying, Room: s.room, Track: ev.Track})

	case core.EventPositionUpdate:
		s.updatePosition(ev.Position)

	case core.EventConnectionLost:
		return s.reconnect(ctx)

	case core.EventRemotePause, core.EventStreamEnded, core.EventDeviceSuperseded:
		next, ok := eventEdges[s.State()][ev.Kind]
		if !ok {
			return false
		}
		s.awaiting = false
		s.setState(next)
		switch {
		case next == StateStolen:
			// Another client took the shared identity. Do not fight for it;
			// reject commands until the user explicitly reclaims with play.
			s.drainFrames()
			s.publish(core.Notification{Kind: core.NotifyPlaybackStolen, Room: s.room})
		case ev.Kind == core.EventStreamEnded:
			s.drainFrames()
		}
	}
	return false
}

// reconnect rebuilds the source client after a connection loss, bounded by
// the reconnect policy. Exhaustion closes the session.
func (s *Session) reconnect(ctx context.Context) (stop bool) {
	s.logger.Warn().Msg("source connection lost, reconnecting")
	s.awaiting = false
	s.setState(StateConnecting)
	s.stopPumps()
	_ = s.source.Close()
	s.drainFrames()
	s.drainEvents()

	if err := s.rebuildSource(ctx, s.cfg.ReconnectTries); err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.logger.Error().Err(err).Msg("reconnect exhausted")
		s.finish(core.EndReasonConnection)
		return true
	}

	s.setState(StateIdle)
	s.startPumps(ctx)
	return false
}

// reclaim re-authenticates as a fresh device and replays the command that
// triggered it. Failure to reclaim closes the session like any other
// handshake failure.
func (s *Session) reclaim(ctx context.Context, cmd core.Command) (stop bool) {
	s.logger.Info().Msg("attempting to reclaim playback")
	s.setState(StateConnecting)
	s.stopPumps()
	_ = s.source.Close()
	s.drainFrames()
	s.drainEvents()

	if err := s.rebuildSource(ctx, s.cfg.ConnectRetries); err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.logger.Error().Err(err).Msg("reclaim failed")
		s.finish(core.EndReasonConnection)
		return true
	}

	s.setState(StateIdle)
	s.startPumps(ctx)

	if err := s.source.SendControl(ctx, cmd); err != nil {
		s.logger.Error().Err(err).Msg("control call after reclaim failed")
		return false
	}
	s.awaiting = true
	s.lastFrameAt = time.Now()
	s.lastActive = s.lastFrameAt
	return false
}

func (s *Session) rebuildSource(ctx context.Context, tries uint64) error {
	token, err := s.creds.CurrentToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrCapabilityUnavailable, err)
	}
	src, err := s.newSource(token, s.deviceName)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrCapabilityUnavailable, err)
	}
	s.source = src
	return s.connectSource(ctx, tries)
}

func (s *Session) drainFrames() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

// drainEvents discards events queued by the pumps of a source that is being
// replaced. Both pumps push ConnectionLost on one socket loss; replaying the
// duplicate against the rebuilt source would tear it down again. Only safe
// after stopPumps.
func (s *Session) drainEvents() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// finish marks the session terminal and reports it outward exactly once.
func (s *Session) finish(reason core.EndReason) {
	if s.ended {
		return
	}
	s.ended = true
	s.setState(StateClosed)
	s.publish(core.Notification{Kind: core.NotifySessionEnded, Room: s.room, Reason: reason})
}

// teardown releases both capability handles on every exit path, including
// the run context when the session closed itself.
func (s *Session) teardown() {
	if !s.ended {
		s.finish(core.EndReasonLeft)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.stopPumps()
	if err := s.source.Close(); err != nil {
		s.logger.Error().Err(err).Msg("source close error")
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Error().Err(err).Msg("transport close error")
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Info().Msg("session closed")
}

func (s *Session) setState(v State) {
	old := State(s.state.Swap(int32(v)))
	if old != v {
		s.logger.Info().Str("from", old.String()).Str("to", v.String()).Msg("state change")
	}
}

func (s *Session) setNowPlaying(track *domain.TrackInfo) {
	s.mu.Lock()
	s.nowPlaying = track.Clone()
	s.mu.Unlock()
}

func (s *Session) updatePosition(pos time.Duration) {
	s.mu.Lock()
	if s.nowPlaying != nil {
		s.nowPlaying.Position = pos
	}
	s.mu.Unlock()
}

func (s *Session) publish(n core.Notification) {
	if s.hub != nil {
		s.hub.Publish(n)
	}
}
