// Package http is the control surface: a JSON API over the engine plus a
// per-room notification stream, consumed by whatever user-facing frontend
// renders messages ("now playing X", "playback stolen").
package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/soundcord/soundcord/internal/config"
	"github.com/soundcord/soundcord/internal/engine"
)

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *engine.Registry, router *engine.Router) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	h := &handlers{reg: reg, router: router}
	limited := RateLimitMiddleware(30, time.Minute)

	api := r.Group("/api")
	api.GET("/rooms", h.listRooms)
	api.POST("/rooms/:room/join", limited, h.join)
	api.POST("/rooms/:room/leave", limited, h.leave)
	api.POST("/rooms/:room/command", limited, h.command)
	api.GET("/rooms/:room/events", h.events)

	log.Info().Str("module", "transport.http").Msg("router setup")
	return r
}
