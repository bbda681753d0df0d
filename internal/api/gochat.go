package api

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatengine/internal/config"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/stats"
)

type GoChatApp struct {
	log            *log.Logger
	db             database.GoChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
	validate       *validator.Validate
}

func NewGoChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.GoChatRepository, su stats.StatsProvider, cfg *config.Config) *GoChatApp {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		stats:          su,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/users", s.authMiddleware(s.listUsers))
	mux.HandleFunc("GET /api/users/search", s.authMiddleware(s.searchUsers))
	mux.HandleFunc("POST /api/users/status", s.authMiddleware(s.setStatus))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("DELETE /api/rooms/{id}", s.authMiddleware(s.deleteRoom))
	mux.HandleFunc("POST /api/rooms/{id}/join", s.authMiddleware(s.joinRoom))
	mux.HandleFunc("POST /api/rooms/{id}/leave", s.authMiddleware(s.leaveRoom))
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("GET /api/rooms/{id}/last-message", s.authMiddleware(s.getLastMessage))
	mux.HandleFunc("POST /api/rooms/{id}/messages/{messageId}/read", s.authMiddleware(s.markRead))
	mux.HandleFunc("POST /api/rooms/{id}/typing", s.authMiddleware(s.setTyping))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
