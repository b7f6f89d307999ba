package api

import (
	"github.com/gin-gonic/gin"

	"opencat/internal/apperr"
	"opencat/internal/middleware"
	"opencat/internal/response"
)

func (s *Server) GetCustomerInfo(c *gin.Context) {
	app := middleware.CurrentApp(c)
	appUserID := c.Param("app_user_id")
	if appUserID == "" {
		response.Err(c, apperr.Validation("app_user_id is required"))
		return
	}

	info, err := s.Pipeline.CustomerInfo(app.ID, appUserID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, info)
}

func (s *Server) RestorePurchases(c *gin.Context) {
	app := middleware.CurrentApp(c)
	appUserID := c.Param("app_user_id")
	if appUserID == "" {
		response.Err(c, apperr.Validation("app_user_id is required"))
		return
	}

	info, err := s.Pipeline.Restore(c.Request.Context(), app.ID, appUserID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, info)
}
