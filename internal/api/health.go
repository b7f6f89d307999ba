package api

import (
	"github.com/gin-gonic/gin"

	"opencat/internal/response"
)

// Health handles GET /health (spec §6 liveness).
func (s *Server) Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "ok"})
}
