// Package server exposes calls, interviews and feedback over HTTP and pushes
// live call events to websocket clients.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps are the handlers' collaborators. Generator and Warnings are optional.
type Deps struct {
	Calls     CallManager
	Store     Store
	Generator QuestionGenerator
	Hub       *Hub
	Warnings  func() []string
	Logger    *slog.Logger
}

func Handler(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{
		calls:     deps.Calls,
		store:     deps.Store,
		generator: deps.Generator,
		hub:       deps.Hub,
		warnings:  deps.Warnings,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "mock-interviewer")
	})

	r.Get("/ws", a.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)

		r.Post("/calls", a.handleCreateCall)
		r.Get("/calls/{id}", a.handleGetCall)
		r.Post("/calls/{id}/start", a.handleStartCall)
		r.Post("/calls/{id}/stop", a.handleStopCall)
		r.Post("/calls/{id}/events", a.handleCallEvent)
		r.Get("/calls/{id}/audio", a.handleAudio)

		r.Get("/vapi/generate", a.handleGeneratePing)
		r.Post("/vapi/generate", a.handleGenerate)

		r.Get("/interviews", a.handleListInterviews)
		r.Get("/interviews/latest", a.handleLatestInterviews)
		r.Get("/interviews/{id}", a.handleGetInterview)
		r.Get("/interviews/{id}/feedback", a.handleGetFeedback)
		r.Get("/feedback", a.handleListFeedback)
	})

	return r
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func New(addr string, h http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
