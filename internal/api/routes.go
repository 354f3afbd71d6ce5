package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the control API.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(withRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.nodeStatus)

		r.Post("/messages", h.sendMessage)
		r.Get("/search", h.searchMessages)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", h.listChats)
			r.Route("/{peer}", func(r chi.Router) {
				r.Get("/messages", h.chatMessages)
				r.Post("/read", h.markChatRead)
				r.Post("/pin", h.pinChat)
				r.Delete("/", h.deleteChat)
			})
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.listContacts)
			r.Post("/", h.requestContact)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getContact)
				r.Delete("/", h.deleteContact)
				r.Post("/block", h.blockContact)
				r.Post("/favorite", h.favoriteContact)
			})
		})

		r.Route("/outbox", func(r chi.Router) {
			r.Get("/", h.listOutbox)
			r.Post("/flush", h.flushOutbox)
			r.Post("/purge", h.purgeOutbox)
		})

		r.Route("/vibe", func(r chi.Router) {
			r.Get("/", h.listTickets)
			r.Post("/{peer}/start", h.startVibe)
			r.Post("/{peer}/skip", h.skipVibe)
		})
	})

	return r
}

func withRequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("api request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("took", time.Since(start)))
		})
	}
}
