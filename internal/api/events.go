package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"opencat/internal/middleware"
	"opencat/internal/response"
)

const defaultEventPageSize = 100

// ListEvents handles GET /v1/events?since={sequence} (spec §6).
func (s *Server) ListEvents(c *gin.Context) {
	app := middleware.CurrentApp(c)

	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	limit := defaultEventPageSize
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := s.Events.ListByApp(app.ID, since, limit)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, events)
}
