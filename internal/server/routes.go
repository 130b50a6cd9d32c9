package server

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api/ingest")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/poisoned", s.handleListPoisoned)
		api.DELETE("/poisoned", s.handleReleasePoisoned)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Stats())
}

func (s *Server) handleListPoisoned(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "poison list is disabled"})
		return
	}

	files, err := s.store.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list poisoned files",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"count": len(files),
	})
}

// handleReleasePoisoned forgets a poisoned file and submits it again when it
// is still on disk.
func (s *Server) handleReleasePoisoned(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "poison list is disabled"})
		return
	}

	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	removed, err := s.store.Remove(c.Request.Context(), path)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to release poisoned file",
			"details": err.Error(),
		})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "file is not poisoned", "path": path})
		return
	}

	resubmitted := false
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		resubmitted = s.submitter.Submit(path, info.Size())
	}
	s.logger.Info("released poisoned file", "path", path, "resubmitted", resubmitted)

	c.JSON(http.StatusOK, gin.H{
		"path":        path,
		"released":    true,
		"resubmitted": resubmitted,
	})
}
