package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
	"github.com/soundcord/soundcord/internal/engine"
)

type handlers struct {
	reg    *engine.Registry
	router *engine.Router
}

type joinRequest struct {
	Channel string `json:"channel"`
}

type commandRequest struct {
	Action string `json:"action"`
	Track  string `json:"track,omitempty"`
	Volume int    `json:"volume,omitempty"`
}

var commandActions = map[string]core.CommandKind{
	"play":       core.CommandPlay,
	"pause":      core.CommandPause,
	"resume":     core.CommandResume,
	"skip":       core.CommandSkip,
	"set_volume": core.CommandSetVolume,
	"disconnect": core.CommandDisconnect,
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.reg.List()})
}

func (h *handlers) join(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid channel"})
		return
	}

	sess, err := h.reg.Join(c.Request.Context(), room, domain.ChannelID(req.Channel))
	switch {
	case errors.Is(err, core.ErrAlreadyJoined):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrCapabilityUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{"room": sess.Room(), "state": sess.State().String()})
	}
}

func (h *handlers) leave(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))
	if err := h.reg.Leave(room); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) command(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command body"})
		return
	}
	kind, ok := commandActions[req.Action]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return
	}
	if kind == core.CommandSetVolume && (req.Volume < 0 || req.Volume > 100) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume must be 0..100"})
		return
	}

	cmd := core.Command{Kind: kind, TrackRef: req.Track, Volume: req.Volume}
	err := h.router.Dispatch(c.Request.Context(), room, cmd)
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidCommand), errors.Is(err, core.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusAccepted)
	}
}

// events streams the room's notifications as server-sent events until the
// client disconnects.
func (h *handlers) events(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))

	ch, cancel := h.reg.Hub().Subscribe(room)
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(n.Kind.String(), n)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
