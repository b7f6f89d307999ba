package api

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"

	"opencat/internal/apperr"
	"opencat/internal/middleware"
	"opencat/internal/response"
	"opencat/internal/storage"
)

// RegisterWebhookRequest is the POST /v1/webhooks body.
type RegisterWebhookRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// RegisterWebhookResponse includes the generated signing secret exactly
// once, mirroring the app API key's reveal-on-create-only convention.
type RegisterWebhookResponse struct {
	storage.WebhookEndpoint
	Secret string `json:"secret"`
}

func (s *Server) RegisterWebhook(c *gin.Context) {
	app := middleware.CurrentApp(c)

	var req RegisterWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Err(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	secret, err := generateWebhookSecret()
	if err != nil {
		response.Err(c, apperr.New(apperr.KindInternal, "failed to generate webhook secret: %v", err))
		return
	}

	ep := &storage.WebhookEndpoint{AppID: app.ID, URL: req.URL, Secret: secret, Active: true}
	if err := s.Webhooks.Create(ep); err != nil {
		response.Err(c, err)
		return
	}
	s.Dispatcher.RegisterEndpoint(c.Request.Context(), ep)

	response.Created(c, RegisterWebhookResponse{WebhookEndpoint: *ep, Secret: secret})
}

func (s *Server) ListWebhooks(c *gin.Context) {
	app := middleware.CurrentApp(c)
	eps, err := s.Webhooks.ListByApp(app.ID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, eps)
}

func generateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
