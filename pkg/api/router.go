// Package api exposes the engine to a UI process over HTTP. Rendering,
// gestures and navigation stay on the UI side; this is only the process
// boundary for the engine's operations.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quanta-social/feedengine/pkg/engine"
	"github.com/rs/cors"
)

func Router(e *engine.Engine) *chi.Mux {
	r := chi.NewRouter()

	// CORS middleware
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	h := &handlers{engine: e}

	r.Get("/feed", h.getFeedPage)
	r.Post("/feed/position", h.notifyPosition)
	r.Post("/feed/refresh", h.refreshFeed)

	r.Post("/posts/{postId}/like", h.toggleLike)
	r.Post("/posts/{postId}/bookmark", h.toggleBookmark)
	r.Post("/posts/{postId}/comments", h.submitComment)
	r.Post("/avatars/{avatarId}/follow", h.toggleFollow)

	r.Post("/players/{postId}", h.acquirePlayer)
	r.Delete("/players/{postId}", h.releasePlayer)
	r.Post("/players/{postId}/play", h.play)
	r.Post("/players/{postId}/pause", h.pause)
	r.Post("/players/{postId}/progress", h.progress)
	r.Post("/players/visible", h.setVisible)

	r.Get("/settings/muted", h.getMuted)
	r.Put("/settings/muted", h.setMuted)

	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})

	return r
}
