// Package httpapi is ELF's HTTP boundary (spec §6 "CLI / HTTP (boundary)"):
// header-based tenant/scope extraction, a pluggable internal/transport/auth
// credential check, and REST handlers over internal/writepipeline,
// internal/retrieval, internal/session, and internal/sharing. Grounded on
// the teacher's internal/httpapi — chi router, middleware chaining order,
// and the Server-holds-every-service composition root are all kept; the
// sync/REST-CRUD domain handlers are replaced with ELF's note/search/
// session/sharing operations.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/obslog"
	"github.com/elf-memory/elf/internal/retrieval"
	"github.com/elf-memory/elf/internal/session"
	"github.com/elf-memory/elf/internal/sharing"
	"github.com/elf-memory/elf/internal/transport/auth"
	"github.com/elf-memory/elf/internal/writepipeline"
)

// Server holds every dependency ELF's HTTP handlers need, the same
// everything-on-one-struct composition the teacher's httpapi.Server uses.
type Server struct {
	Cfg           *config.Config
	WritePipe     *writepipeline.Service
	Retrieval     *retrieval.Service
	Session       *session.Service
	Sharing       *sharing.Service
	Extractor     writepipeline.Extractor // optional; add_event 500s without one
	Authenticator auth.Authenticator      // optional; nil (or AuthMode != "bearer") disables auth entirely
	log           zerolog.Logger
}

// NewServer builds an httpapi.Server.
func NewServer(cfg *config.Config, wp *writepipeline.Service, retr *retrieval.Service, sess *session.Service, shr *sharing.Service, extractor writepipeline.Extractor, authenticator auth.Authenticator) *Server {
	return &Server{
		Cfg: cfg, WritePipe: wp, Retrieval: retr, Session: sess, Sharing: shr,
		Extractor: extractor, Authenticator: authenticator, log: obslog.Component("httpapi"),
	}
}

// Routes builds the chi router. Ordering mirrors the teacher's: request ID,
// real IP, correlation ID, structured request logging, panic recovery, then
// the ELF tenant-header + auth middleware before any route group.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.Authenticator, s.Cfg.Security.AuthMode))
		r.Use(TenantHeaderMiddleware)

		r.Post("/v1/notes", s.AddNote)
		r.Post("/v1/events", s.AddEvent)

		r.Group(func(r chi.Router) {
			r.Use(ReadProfileHeaderMiddleware)

			r.Post("/v1/search", s.Search)
			r.Post("/v1/search/sessions", s.CreateSession)
			r.Get("/v1/search/sessions/{id}", s.GetSession)
			r.Get("/v1/search/sessions/{id}/timeline", s.Timeline)
			r.Post("/v1/search/sessions/{id}/details", s.Details)
		})

		r.Post("/v1/notes/{id}/publish", s.Publish)
		r.Post("/v1/notes/{id}/unpublish", s.Unpublish)
		r.Post("/v1/space-grants", s.GrantUpsert)
		r.Delete("/v1/space-grants", s.GrantRevoke)
		r.Get("/v1/space-grants", s.GrantsList)
	})

	return r
}
