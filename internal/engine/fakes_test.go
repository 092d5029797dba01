package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundcord/soundcord/internal/config"
	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

type fakeCreds struct {
	mu  sync.Mutex
	err error
}

func (f *fakeCreds) CurrentToken(context.Context) (core.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return core.Token{}, f.err
	}
	return core.Token{AccessToken: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeCreds) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeSource struct {
	frames chan core.AudioFrame
	events chan core.PlaybackEvent

	mu         sync.Mutex
	controls   []core.Command
	connectErr error
	controlGo  chan struct{} // when set, SendControl blocks until closed
	failErr    error

	connects atomic.Int32
	closed   atomic.Bool

	dead chan struct{}

	nextSeq uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		frames: make(chan core.AudioFrame, 256),
		events: make(chan core.PlaybackEvent, 16),
		dead:   make(chan struct{}),
	}
}

// fail mimics a socket loss: both NextFrame and NextEvent start returning the
// error, like the real client's sticky dead channel.
func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	if f.failErr == nil {
		f.failErr = err
		close(f.dead)
	}
	f.mu.Unlock()
}

func (f *fakeSource) Connect(context.Context) error {
	f.mu.Lock()
	err := f.connectErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.connects.Add(1)
	return nil
}

func (f *fakeSource) SendControl(ctx context.Context, cmd core.Command) error {
	f.mu.Lock()
	gate := f.controlGo
	f.controls = append(f.controls, cmd)
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeSource) NextFrame(ctx context.Context) (core.AudioFrame, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	case <-f.dead:
		return core.AudioFrame{}, f.failErr
	case <-ctx.Done():
		return core.AudioFrame{}, ctx.Err()
	}
}

func (f *fakeSource) NextEvent(ctx context.Context) (core.PlaybackEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.dead:
		return core.PlaybackEvent{}, f.failErr
	case <-ctx.Done():
		return core.PlaybackEvent{}, ctx.Err()
	}
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSource) emitFrames(n int) {
	for i := 0; i < n; i++ {
		f.nextSeq++
		f.frames <- core.AudioFrame{
			Seq:       f.nextSeq,
			Timestamp: time.Duration(f.nextSeq) * 20 * time.Millisecond,
			Payload:   []byte{0xfc},
		}
	}
}

func (f *fakeSource) emit(ev core.PlaybackEvent) {
	f.events <- ev
}

func (f *fakeSource) sentControls() []core.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Command, len(f.controls))
	copy(out, f.controls)
	return out
}

func (f *fakeSource) controlCount(kind core.CommandKind) int {
	n := 0
	for _, c := range f.sentControls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu         sync.Mutex
	submitted  []uint64
	connectErr error
	submitErr  error

	closed atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeTransport) Submit(_ context.Context, frame core.AudioFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, frame.Seq)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) setSubmitErr(err error) {
	f.mu.Lock()
	f.submitErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) submittedSeqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.submitted))
	copy(out, f.submitted)
	return out
}

// env wires a registry to fakes built per join/reconnect.
type env struct {
	reg    *Registry
	router *Router
	creds  *fakeCreds

	mu               sync.Mutex
	sources          []*fakeSource
	transports       []*fakeTransport
	sourceConnectErr error
	transConnectErr  error
}

func newEnv(cfg config.EngineConfig) *env {
	e := &env{creds: &fakeCreds{}}

	newSource := func(core.Token, string) (core.SourceClient, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		s := newFakeSource()
		s.connectErr = e.sourceConnectErr
		e.sources = append(e.sources, s)
		return s, nil
	}
	newTransport := func(domain.ChannelID) (core.VoiceTransport, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		t := newFakeTransport()
		t.connectErr = e.transConnectErr
		e.transports = append(e.transports, t)
		return t, nil
	}

	e.reg = NewRegistry(e.creds, newSource, newTransport, "test-device", cfg)
	e.router = NewRouter(e.reg)
	return e
}

func (e *env) source(i int) *fakeSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sources[i]
}

func (e *env) transport(i int) *fakeTransport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transports[i]
}

func (e *env) sourceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sources)
}

func (e *env) setSourceConnectErr(err error) {
	e.mu.Lock()
	e.sourceConnectErr = err
	e.mu.Unlock()
}

func (e *env) setTransportConnectErr(err error) {
	e.mu.Lock()
	e.transConnectErr = err
	e.mu.Unlock()
}

func testCfg() config.EngineConfig {
	return config.EngineConfig{
		FrameInterval:   2 * time.Millisecond,
		FrameBuffer:     4,
		StallThreshold:  30 * time.Millisecond,
		ConnectRetries:  1,
		ReconnectTries:  1,
		BackoffInterval: time.Millisecond,
		IdleTimeout:     time.Hour,
	}
}
