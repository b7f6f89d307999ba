// Package middleware provides gin request middleware, generalizing the
// teacher's ProjectAuthMiddleware header-pair scheme into the single
// Authorization: Bearer {api_key} scheme spec.md §6 requires.
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"opencat/internal/apperr"
	"opencat/internal/response"
	"opencat/internal/storage"
)

// AppContextKey is the gin context key holding the authenticated *storage.App.
const AppContextKey = "app"

// APIKeyAuth resolves the bearer token in the Authorization header to an
// App and stores it in the gin context, rejecting the request otherwise.
func APIKeyAuth(apps *storage.AppRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Err(c, err)
			return
		}

		app, err := apps.GetByAPIKey(key)
		if err != nil {
			response.Err(c, err)
			return
		}

		c.Set(AppContextKey, app)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apperr.Auth("missing or malformed Authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", apperr.Auth("missing or malformed Authorization header")
	}
	return token, nil
}

// CurrentApp fetches the authenticated App set by APIKeyAuth. It panics if
// called from a route not behind APIKeyAuth, matching gin's MustGet
// convention for required context values.
func CurrentApp(c *gin.Context) *storage.App {
	return c.MustGet(AppContextKey).(*storage.App)
}

// AdminAuth gates the app-management endpoints (POST/GET /v1/apps) that
// must work before any per-app API key exists. It reuses the server's
// secret key material as a single bootstrap credential, matched in
// constant time.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Err(c, err)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
			response.Err(c, apperr.Auth("invalid admin key"))
			return
		}
		c.Next()
	}
}

// RequireAppMatch checks that the app-scoped path parameter matches the
// authenticated App, returning NotFound (not Forbidden) to avoid revealing
// whether another app's ID exists.
func RequireAppMatch(c *gin.Context) bool {
	app := CurrentApp(c)
	if c.Param("id") != app.ID {
		response.Err(c, apperr.NotFound("app %s not found", c.Param("id")))
		return false
	}
	return true
}
