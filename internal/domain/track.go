// Package domain contains entity without logic, just meta-data
package domain

import "time"

// TrackInfo describes the track a session is currently playing.
// Mutated only by playback events; read by outward notifiers.
type TrackInfo struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Duration time.Duration `json:"duration"`
	Position time.Duration `json:"position"`
}

// Clone returns an independent copy so readers never share the session's own value.
func (t *TrackInfo) Clone() *TrackInfo {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
