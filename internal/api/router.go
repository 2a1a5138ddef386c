package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hireloop/interview-engine/internal/feedback"
	"github.com/hireloop/interview-engine/internal/interview"
	"github.com/hireloop/interview-engine/internal/observability"
	"github.com/hireloop/interview-engine/internal/session"
	"github.com/hireloop/interview-engine/internal/storage/sqlite"
	"github.com/hireloop/interview-engine/internal/websocket"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// Router assembles the HTTP surface: REST endpoints, the interview socket,
// the observer socket, metrics and static assets.
type Router struct {
	handler           *Handler
	interviewHandlers *InterviewHandlers
	wsServer          *websocket.Server
	metricsEnabled    bool
	staticDir         string
	logger            *logger.Logger
}

// NewRouter creates the API router.
func NewRouter(
	sessions *session.Service,
	storage *sqlite.SessionStorage,
	generator *feedback.Generator,
	defaults interview.SessionConfig,
	wsServer *websocket.Server,
	metrics *observability.Metrics,
	staticDir string,
	log *logger.Logger,
) *Router {
	return &Router{
		handler:           NewHandler(sessions, storage, generator, defaults, log),
		interviewHandlers: NewInterviewHandlers(sessions, wsServer, metrics, log),
		wsServer:          wsServer,
		metricsEnabled:    metrics != nil,
		staticDir:         staticDir,
		logger:            log.Named("router"),
	}
}

// Routes builds the chi route tree.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", rt.handler.CreateSession)
			r.Get("/", rt.handler.ListSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", rt.handler.GetSession)
				r.Delete("/", rt.handler.EndSession)
				r.Get("/transcript", rt.handler.GetTranscript)
				r.Post("/feedback", rt.handler.GenerateFeedback)
				r.Get("/connect", rt.interviewHandlers.ConnectHandler)
			})
		})
	})

	if rt.wsServer != nil {
		r.Get("/ws", rt.wsServer.HandleConnection)
	}
	if rt.metricsEnabled {
		r.Handle("/metrics", observability.MetricsHandler())
	}
	if rt.staticDir != "" {
		r.NotFound(NewStaticFileHandler(rt.staticDir, rt.logger).ServeHTTP)
	}

	return r
}
