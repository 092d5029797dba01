package core

import "time"

// AudioFrame is one opaque chunk of encoded audio produced by a source client.
// Seq increases monotonically within one session's lifetime; frames are never
// reordered, duplicated, or split across sessions.
type AudioFrame struct {
	Seq       uint64
	Timestamp time.Duration
	Payload   []byte
}
