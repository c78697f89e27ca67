package server

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/linkauth/internal/auth"
	"github.com/dukerupert/linkauth/internal/handler"
	"github.com/dukerupert/linkauth/internal/middleware"
)

type Server struct {
	svc     *auth.Service
	authH   *handler.AuthHandler
	healthH *handler.HealthHandler
	logger  *slog.Logger
}

func New(svc *auth.Service, mailer handler.LinkSender, checks []handler.Check, logger *slog.Logger) *Server {
	return &Server{
		svc:     svc,
		authH:   handler.NewAuthHandler(svc, mailer, logger),
		healthH: handler.NewHealthHandler(logger.With("component", "health"), checks...),
		logger:  logger,
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", s.healthH.Health)

	// Session-bound routes
	sessionMux := http.NewServeMux()
	sessionMux.HandleFunc("GET /auth/email/signin", s.authH.VerifySignin)
	sessionMux.HandleFunc("GET /auth/email/signin/{token}", s.authH.VerifySignin)
	sessionMux.HandleFunc("POST /auth/email/signin", s.authH.RequestSignin)
	sessionMux.HandleFunc("POST /auth/signout", s.authH.Signout)

	requireAuth := middleware.RequireAuth(s.svc, s.logger.With("component", "auth_middleware"))
	sessionMux.Handle("GET /auth/me", requireAuth(http.HandlerFunc(s.authH.Me)))

	outerMux.Handle("/auth/", s.svc.Sessions.Middleware(sessionMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}
