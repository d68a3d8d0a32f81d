package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taskboard/internal/backup"
	"taskboard/internal/hub"
)

const stateTimeout = 2 * time.Second

// Board is the realtime side of the server.
type Board interface {
	Alive() bool
	State(ctx context.Context) (hub.State, error)
	Attach(conn *websocket.Conn) bool
}

// Backups reports what the backup manager has written.
type Backups interface {
	Info() (backup.Info, error)
}

// Server provides HTTP handlers for the collaborative board.
type Server struct {
	engine    *gin.Engine
	board     Board
	backups   Backups
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	staticDir string
	now       func() time.Time
}

// New constructs the HTTP server with routes and middleware configured.
// backups may be nil.
func New(board Board, backups Backups, logger *slog.Logger, staticDir string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api", "/health", "/ws"))

	srv := &Server{
		engine:  router,
		board:   board,
		backups: backups,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:    logger,
		staticDir: staticDir,
		now:       time.Now,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API and static handlers together.
func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ws", s.handleWebsocket)

	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)
		api.GET("/state", s.handleState)
		api.GET("/backups", s.handleBackups)
	}

	s.mountStatic()
}

// handleHealth reports whether the event loop is still running.
func (s *Server) handleHealth(c *gin.Context) {
	ts := s.now().UTC().Format(time.RFC3339Nano)
	if !s.board.Alive() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "timestamp": ts})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": ts})
}

// handleWebsocket upgrades the request and hands the connection to the board.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	if !s.board.Attach(conn) {
		s.logger.Warn("board stopped; rejecting connection", slog.String("remote", c.Request.RemoteAddr))
	}
}

// handleState returns a read-only snapshot of the board.
func (s *Server) handleState(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), stateTimeout)
	defer cancel()

	st, err := s.board.State(ctx)
	if err != nil {
		s.respondError(c, http.StatusServiceUnavailable, err)
		return
	}
	respondSuccess(c, http.StatusOK, st)
}

// handleBackups lists backup statistics.
func (s *Server) handleBackups(c *gin.Context) {
	if s.backups == nil {
		respondSuccess(c, http.StatusOK, backup.Info{})
		return
	}
	info, err := s.backups.Info()
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, info)
}

// respondError logs the error and returns a JSON payload.
func (s *Server) respondError(c *gin.Context, status int, err error) {
	if err != nil {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondSuccess writes payload as JSON, or only the status when payload is nil.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
