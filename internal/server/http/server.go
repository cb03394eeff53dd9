// Package httpserver exposes the companion API over HTTP.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/service"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires services into HTTP handlers.
type Server struct {
	auth      service.AuthService
	memory    service.MemoryService
	reminders service.ReminderService
	health    Pinger
	pollerKey []byte
	log       *zap.Logger
}

// New constructs a server with injected services. An empty pollerKey
// leaves the internal poller routes unmounted.
func New(
	auth service.AuthService,
	memory service.MemoryService,
	reminders service.ReminderService,
	health Pinger,
	pollerKey string,
	log *zap.Logger,
) *Server {
	return &Server{
		auth:      auth,
		memory:    memory,
		reminders: reminders,
		health:    health,
		pollerKey: []byte(pollerKey),
		log:       log,
	}
}

// Router builds the route table.
//
//	GET  /health
//	POST /register
//	POST /token
//	GET  /users/me                        bearer
//	POST /conversations                   bearer
//	GET  /conversations                   bearer
//	GET  /conversations/context           bearer
//	POST /reminders                       bearer
//	GET  /reminders                       bearer
//	GET  /internal/reminders/due          poller key
//	PUT  /internal/reminders/{id}/status  poller key
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logging(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", s.Health)
	r.Post("/register", s.Register)
	r.Post("/token", s.Token)

	r.Group(func(r chi.Router) {
		r.Use(s.RequireIdentity)
		r.Get("/users/me", s.Me)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.SaveConversation)
			r.Get("/", s.History)
			r.Get("/context", s.Context)
		})
		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", s.ScheduleReminder)
			r.Get("/", s.ListReminders)
		})
	})

	if len(s.pollerKey) > 0 {
		r.Route("/internal/reminders", func(r chi.Router) {
			r.Use(s.RequirePollerKey)
			r.Get("/due", s.DueReminders)
			r.Put("/{id}/status", s.MarkReminder)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}
