package server

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/authface/authface/internal/config"
	"github.com/authface/authface/sessions"
	"github.com/authface/authface/token"
)

// LoginService drives the federated login handshake.
type LoginService interface {
	Providers() []string
	StartLogin(ctx context.Context, provider string) (string, error)
	CompleteLogin(ctx context.Context, provider, code, state string) (sessions.Session, error)
}

// TokenService issues and verifies broker tokens.
type TokenService interface {
	Issue(session sessions.Session) (string, error)
	Verify(ctx context.Context, rawToken string) (*token.Claims, error)
	GetJWKS() (*token.JWKS, error)
}

// SessionStore is the slice of the session store the handlers need.
type SessionStore interface {
	Get(ctx context.Context, id string) (sessions.Session, bool)
	Revoke(id string)
	ActiveCount() int
}

type Server struct {
	env       string
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	logins    LoginService
	tokens    TokenService
	store     SessionStore
	startedAt time.Time
}

func New(cfg config.Config, logins LoginService, tokens TokenService, store SessionStore) (*Server, error) {
	if logins == nil {
		return nil, errors.New("[Server New] login service is required")
	}
	if tokens == nil {
		return nil, errors.New("[Server New] token service is required")
	}
	if store == nil {
		return nil, errors.New("[Server New] session store is required")
	}

	s := &Server{
		mux:       http.NewServeMux(),
		config:    cfg,
		logins:    logins,
		tokens:    tokens,
		store:     store,
		env:       cfg.GetEnv(),
		startedAt: time.Now(),
	}
	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		log.Debug().Str("route", route).Msg("registered")
	}
}
