package source

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

type eventPayload struct {
	Type  string `json:"type"`
	Track *struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		Artist     string `json:"artist"`
		DurationMS int64  `json:"duration_ms"`
		PositionMS int64  `json:"position_ms"`
	} `json:"track,omitempty"`
	PositionMS int64 `json:"position_ms,omitempty"`
}

// translateEvent turns a wire payload into an engine playback event.
// Unknown types are skipped, not errors; the service adds types over time.
func translateEvent(data []byte) (core.PlaybackEvent, bool) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "source").Msg("bad event payload")
		return core.PlaybackEvent{}, false
	}

	switch p.Type {
	case "track_changed":
		if p.Track == nil {
			return core.PlaybackEvent{}, false
		}
		return core.PlaybackEvent{
			Kind: core.EventTrackChanged,
			Track: &domain.TrackInfo{
				ID:       p.Track.ID,
				Title:    p.Track.Title,
				Artist:   p.Track.Artist,
				Duration: time.Duration(p.Track.DurationMS) * time.Millisecond,
				Position: time.Duration(p.Track.PositionMS) * time.Millisecond,
			},
		}, true
	case "position":
		return core.PlaybackEvent{
			Kind:     core.EventPositionUpdate,
			Position: time.Duration(p.PositionMS) * time.Millisecond,
		}, true
	case "paused":
		return core.PlaybackEvent{Kind: core.EventRemotePause}, true
	case "stream_ended":
		return core.PlaybackEvent{Kind: core.EventStreamEnded}, true
	case "device_superseded":
		return core.PlaybackEvent{Kind: core.EventDeviceSuperseded}, true
	default:
		log.Debug().Str("module", "source").Str("type", p.Type).Msg("unknown event type")
		return core.PlaybackEvent{}, false
	}
}
