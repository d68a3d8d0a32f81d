package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// mountStatic serves the built frontend from the configured directory and
// falls back to index.html for client-side routes.
func (s *Server) mountStatic() {
	s.engine.NoRoute(s.notFound)

	if s.staticDir == "" {
		s.logger.Info("static directory not configured; websocket and API only")
		return
	}

	info, err := os.Stat(s.staticDir)
	if err != nil || !info.IsDir() {
		s.logger.Warn("static directory missing", "path", s.staticDir, "error", err)
		return
	}

	indexPath := filepath.Join(s.staticDir, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		s.logger.Warn("index.html not found", "path", indexPath, "error", err)
		indexPath = ""
	} else {
		s.engine.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})
	}

	entries, err := os.ReadDir(s.staticDir)
	if err != nil {
		s.logger.Warn("read static directory", "path", s.staticDir, "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(s.staticDir, name)
		switch {
		case name == "index.html", isBackendPath("/"+name), name == "api":
		case entry.IsDir():
			s.engine.StaticFS("/"+name, gin.Dir(full, false))
		default:
			s.engine.StaticFile("/"+name, full)
		}
	}

	if indexPath != "" {
		s.engine.NoRoute(func(c *gin.Context) {
			if isBackendPath(c.Request.URL.Path) {
				s.notFound(c)
				return
			}
			c.File(indexPath)
		})
	}
}

func (s *Server) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
}

func isBackendPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/ws" || path == "/health"
}
