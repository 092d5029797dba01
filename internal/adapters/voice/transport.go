// Package voice implements the per-room voice transport: a WebRTC peer
// publishing one opus track to the room's media endpoint. Frames handed to
// Submit are written as RTP packets with a running timestamp.
package voice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soundcord/soundcord/internal/config"
	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

const opusClockRate = 48000

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Transport implements core.VoiceTransport for one room.
type Transport struct {
	channel   domain.ChannelID
	signalURL string
	logger    zerolog.Logger
	http      *http.Client

	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP

	rtpSeq          uint16
	rtpTS           uint32
	samplesPerFrame uint32

	failOnce sync.Once
	failMu   sync.RWMutex
	failErr  error
}

func New(cfg config.VoiceConfig, channel domain.ChannelID, frameInterval time.Duration) *Transport {
	return &Transport{
		channel:         channel,
		signalURL:       cfg.SignalURL,
		logger:          log.With().Str("module", "voice").Str("channel", string(channel)).Logger(),
		http:            &http.Client{Timeout: 10 * time.Second},
		samplesPerFrame: uint32(opusClockRate * frameInterval / time.Second),
	}
}

// NewFactory returns a core.TransportFactory bound to the signaling endpoint.
func NewFactory(cfg config.VoiceConfig, frameInterval time.Duration) core.TransportFactory {
	return func(channel domain.ChannelID) (core.VoiceTransport, error) {
		return New(cfg, channel, frameInterval), nil
	}
}

// Connect builds the peer connection, publishes the local offer to the room's
// media endpoint and applies the answer.
func (t *Transport) Connect(ctx context.Context) error {
	pc, err := webrtc.NewPeerConnection(DefaultWebRTCConfig())
	if err != nil {
		return err
	}
	t.pc = pc

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "soundcord",
	)
	if err != nil {
		_ = pc.Close()
		return err
	}
	t.track = track
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return err
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			t.fail(fmt.Errorf("ice connection %s", s))
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return ctx.Err()
	}

	answer, err := t.exchangeSDP(ctx, pc.LocalDescription().SDP)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		_ = pc.Close()
		return err
	}

	t.logger.Info().Msg("voice transport connected")
	return nil
}

// exchangeSDP posts the offer to the room's publish endpoint and returns the
// answer SDP.
func (t *Transport) exchangeSDP(ctx context.Context, offer string) (string, error) {
	u := fmt.Sprintf("%s/rooms/%s/publish", t.signalURL, t.channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("publish %s: %s", t.channel, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Submit writes one frame as an RTP packet. Any transport-level failure is
// sticky: the destination is gone and the session must tear down.
func (t *Transport) Submit(_ context.Context, frame core.AudioFrame) error {
	t.failMu.RLock()
	failed := t.failErr
	t.failMu.RUnlock()
	if failed != nil {
		return failed
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: t.rtpSeq,
			Timestamp:      t.rtpTS,
		},
		Payload: frame.Payload,
	}
	if err := t.track.WriteRTP(pkt); err != nil {
		t.fail(err)
		return err
	}
	t.rtpSeq++
	t.rtpTS += t.samplesPerFrame
	return nil
}

func (t *Transport) Close() error {
	if t.pc != nil {
		return t.pc.Close()
	}
	return nil
}

func (t *Transport) fail(err error) {
	t.failOnce.Do(func() {
		t.logger.Error().Err(err).Msg("voice transport failed")
		t.failMu.Lock()
		t.failErr = err
		t.failMu.Unlock()
	})
}
