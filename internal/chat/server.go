package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/chatgate/internal/access"
	"github.com/goodtune/chatgate/internal/ratelimit"
	"github.com/goodtune/chatgate/internal/reply"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	// DefaultCookieName is the session cookie set on new sessions
	DefaultCookieName = "chatgate_session"

	// SessionHeader carries a client-stored session token
	SessionHeader = "X-Session-ID"

	// DefaultMaxMessageLength is measured in characters, not bytes
	DefaultMaxMessageLength = 2000

	// DefaultHistoryLimit is the number of prior turns sent upstream
	DefaultHistoryLimit = 6

	maxBodyBytes = 64 << 10
)

// Config holds chat server configuration
type Config struct {
	ListenAddr       string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	CookieName       string
	CookieSecure     bool
	SessionTTL       time.Duration
	AddressHeaders   []string
	MaxMessageLength int
	HistoryLimit     int
}

// Server is the public chat HTTP server
type Server struct {
	config     Config
	controller *access.Controller
	generator  reply.Generator
	router     *mux.Router
	server     *http.Server
	listener   net.Listener // Optional pre-created listener (for systemd socket activation)
	logger     zerolog.Logger
}

// NewServer creates the chat server. Each mount is handed the root router so
// other packages can register their own routes behind the same middleware.
func NewServer(config Config, controller *access.Controller, generator reply.Generator, logger zerolog.Logger, mounts ...func(*mux.Router)) *Server {
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.AddressHeaders == nil {
		config.AddressHeaders = ratelimit.DefaultAddressHeaders
	}
	if config.MaxMessageLength <= 0 {
		config.MaxMessageLength = DefaultMaxMessageLength
	}
	if config.HistoryLimit < 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}

	s := &Server{
		config:     config,
		controller: controller,
		generator:  generator,
		router:     mux.NewRouter(),
		logger:     logger.With().Str("component", "chat").Logger(),
	}

	s.setupRoutes(mounts)

	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes(mounts []func(*mux.Router)) {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/session", s.handleSession).Methods("GET")

	for _, mount := range mounts {
		mount(s.router)
	}
}

// Handler returns the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts serving in the background
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting chat server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated HTTP listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Chat server error")
		}
	}()
	return nil
}

// Stop gracefully drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping chat server")
	return s.server.Shutdown(ctx)
}
