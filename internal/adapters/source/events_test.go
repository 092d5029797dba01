package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundcord/soundcord/internal/core"
)

func TestTranslateEvent(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    core.EventKind
		ok      bool
	}{
		{"paused", `{"type":"paused"}`, core.EventRemotePause, true},
		{"stream ended", `{"type":"stream_ended"}`, core.EventStreamEnded, true},
		{"device superseded", `{"type":"device_superseded"}`, core.EventDeviceSuperseded, true},
		{"position", `{"type":"position","position_ms":1500}`, core.EventPositionUpdate, true},
		{"unknown type", `{"type":"volume_changed"}`, 0, false},
		{"track change without track", `{"type":"track_changed"}`, 0, false},
		{"garbage", `{not json`, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := translateEvent([]byte(tc.payload))
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, ev.Kind)
			}
		})
	}
}

func TestTranslateTrackChanged(t *testing.T) {
	payload := `{
		"type": "track_changed",
		"track": {
			"id": "track:abc",
			"title": "Song",
			"artist": "Artist",
			"duration_ms": 215000,
			"position_ms": 1000
		}
	}`

	ev, ok := translateEvent([]byte(payload))
	require.True(t, ok)
	require.Equal(t, core.EventTrackChanged, ev.Kind)
	require.NotNil(t, ev.Track)
	assert.Equal(t, "track:abc", ev.Track.ID)
	assert.Equal(t, "Song", ev.Track.Title)
	assert.Equal(t, "Artist", ev.Track.Artist)
	assert.Equal(t, 215*time.Second, ev.Track.Duration)
	assert.Equal(t, time.Second, ev.Track.Position)
}

func TestTranslatePosition(t *testing.T) {
	ev, ok := translateEvent([]byte(`{"type":"position","position_ms":62000}`))
	require.True(t, ok)
	assert.Equal(t, 62*time.Second, ev.Position)
}
