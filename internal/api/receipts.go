package api

import (
	"github.com/gin-gonic/gin"

	"opencat/internal/apperr"
	"opencat/internal/middleware"
	"opencat/internal/receipts"
	"opencat/internal/response"
)

// IngestReceipt handles POST /v1/receipts (spec §4.4). The app is taken
// from the authenticated API key, not the body, so a receipt can never be
// attributed to an app other than the caller.
func (s *Server) IngestReceipt(c *gin.Context) {
	app := middleware.CurrentApp(c)

	var req receipts.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Err(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	info, err := s.Pipeline.Ingest(c.Request.Context(), app.ID, req)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, info)
}
