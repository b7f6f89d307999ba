package api

import (
	"github.com/gin-gonic/gin"

	"opencat/internal/middleware"
)

// requireAppMatch confirms the {id} path parameter names the authenticated
// app, writing the standard error response and returning false otherwise.
func requireAppMatch(c *gin.Context) bool {
	return middleware.RequireAppMatch(c)
}
