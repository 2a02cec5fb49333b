package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/go-chat-sync/auth"
	"github.com/jrsteele09/go-chat-sync/chat"
	"github.com/jrsteele09/go-chat-sync/extension"
	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/internal/config"
	"github.com/jrsteele09/go-chat-sync/internal/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Chat     *chat.Service
	Verifier *auth.Verifier
	// NewProvider returns a fresh identity provider client. Each auth request gets its own
	// so one caller's session never leaks into another's.
	NewProvider func() identity.Provider
	// Background hosts the extension router on /sync/ws. Nil disables the endpoint.
	Background *extension.Background
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
}

type Server struct {
	env         string // Environment (e.g., "DEV", "PROD")
	mux         *http.ServeMux
	routes      []string
	config      config.Config
	chat        *chat.Service
	verifier    *auth.Verifier
	newProvider func() identity.Provider
	background  *extension.Background
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	limiter     *userLimiter
	log         zerolog.Logger

	streams sync.WaitGroup
}

func New(config config.Config, deps Deps) (*Server, error) {
	if deps.Chat == nil {
		return nil, errors.New("[Server New] chat service is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("[Server New] token verifier is required")
	}
	if deps.NewProvider == nil {
		return nil, errors.New("[Server New] identity provider is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		env:         config.GetEnv(),
		mux:         http.NewServeMux(),
		config:      config,
		chat:        deps.Chat,
		verifier:    deps.Verifier,
		newProvider: deps.NewProvider,
		background:  deps.Background,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		log:         log.With().Str("component", "server").Logger(),
	}
	if config.GetEnableRateLimiting() {
		s.limiter = newUserLimiter(config.GetRateLimitPerSecond(), config.GetRateLimitBurst())
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

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.log.Info().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}

// Wait blocks until in-flight chat streams have finished.
func (s *Server) Wait() {
	s.streams.Wait()
}
