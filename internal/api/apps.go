// Package api implements the REST handlers of spec.md §6, generalizing the
// teacher's routes.go route-grouping convention to OpenCat's resource set.
package api

import (
	"github.com/gin-gonic/gin"

	"opencat/internal/apperr"
	"opencat/internal/cryptor"
	"opencat/internal/productsync"
	"opencat/internal/receipts"
	"opencat/internal/response"
	"opencat/internal/storage"
	"opencat/internal/webhook"
)

// Server bundles every repo and component a handler needs. Handlers are
// methods on Server rather than closures so the teacher's XHandler naming
// convention reads naturally as Server.XHandler.
type Server struct {
	Apps         *storage.AppRepo
	Entitlements *storage.EntitlementRepo
	Products     *storage.ProductRepo
	Subscribers  *storage.SubscriberRepo
	Transactions *storage.TransactionRepo
	Events       *storage.EventRepo
	Webhooks     *storage.WebhookRepo
	Credentials  *storage.CredentialsRepo
	Cryptor      *cryptor.Cryptor

	Pipeline    *receipts.Pipeline
	ProductSync *productsync.Scheduler
	Dispatcher  *webhook.Dispatcher
}

// CreateAppRequest is the POST /v1/apps body.
type CreateAppRequest struct {
	Name     string `json:"name" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=apple google cross"`
	BundleID string `json:"bundle_id" binding:"required"`
}

func (s *Server) CreateApp(c *gin.Context) {
	var req CreateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Err(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	app := &storage.App{
		Name:     req.Name,
		Platform: storage.Platform(req.Platform),
		BundleID: req.BundleID,
	}
	if err := s.Apps.Create(app); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, app)
}

func (s *Server) ListApps(c *gin.Context) {
	apps, err := s.Apps.List()
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, apps)
}
