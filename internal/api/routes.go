package api

import (
	"github.com/gin-gonic/gin"

	"opencat/internal/middleware"
)

// SetupRoutes wires every spec §6 endpoint onto r, generalizing the
// teacher's SetupRoutes route-grouping convention to OpenCat's resource
// set and its Bearer-token auth scheme in place of header-pair auth.
func SetupRoutes(r *gin.Engine, s *Server, adminKey string) {
	r.GET("/health", s.Health)

	v1 := r.Group("/v1")

	apps := v1.Group("/apps")
	apps.Use(middleware.AdminAuth(adminKey))
	{
		apps.POST("", s.CreateApp)
		apps.GET("", s.ListApps)
	}

	scoped := v1.Group("")
	scoped.Use(middleware.APIKeyAuth(s.Apps))
	{
		scoped.PUT("/apps/:id/credentials", s.SetCredentials)
		scoped.GET("/apps/:id/credentials", s.GetCredentials)

		scoped.POST("/apps/:id/entitlements", s.CreateEntitlement)
		scoped.GET("/apps/:id/entitlements", s.ListEntitlements)

		scoped.POST("/apps/:id/products", s.CreateProduct)
		scoped.GET("/apps/:id/products", s.ListProducts)
		scoped.POST("/apps/:id/products/sync", s.SyncProducts)
		scoped.GET("/apps/:id/offerings", s.ListOfferings)

		scoped.GET("/subscribers/:app_user_id", s.GetCustomerInfo)
		scoped.POST("/subscribers/:app_user_id/restore", s.RestorePurchases)

		scoped.POST("/receipts", s.IngestReceipt)

		scoped.POST("/webhooks", s.RegisterWebhook)
		scoped.GET("/webhooks", s.ListWebhooks)

		scoped.GET("/events", s.ListEvents)
	}
}
