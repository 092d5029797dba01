package engine

import (
	"context"

	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

// Router forwards external commands to the session of the addressed room.
// Accept/reject is synchronous; the playback effect is observed via
// notifications. Commands for different rooms never block each other.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

func (r *Router) Dispatch(ctx context.Context, room domain.RoomID, cmd core.Command) error {
	sess, err := r.reg.Get(room)
	if err != nil {
		return err
	}
	return sess.Submit(ctx, cmd)
}
