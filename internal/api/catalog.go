package api

import (
	"github.com/gin-gonic/gin"

	"opencat/internal/apperr"
	"opencat/internal/response"
	"opencat/internal/storage"
)

// CreateEntitlementRequest is the POST /v1/apps/{id}/entitlements body.
type CreateEntitlementRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) CreateEntitlement(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	var req CreateEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Err(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	ent := &storage.Entitlement{AppID: c.Param("id"), Name: req.Name, Description: req.Description}
	if err := s.Entitlements.Create(ent); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, ent)
}

func (s *Server) ListEntitlements(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	ents, err := s.Entitlements.ListByApp(c.Param("id"))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, ents)
}

// CreateProductRequest is the POST /v1/apps/{id}/products body.
type CreateProductRequest struct {
	StoreProductID     string   `json:"store_product_id" binding:"required"`
	ProductType        string   `json:"product_type" binding:"required,oneof=subscription one_time consumable"`
	DisplayName        string   `json:"display_name"`
	Description        string   `json:"description"`
	SubscriptionPeriod string   `json:"subscription_period"`
	TrialPeriod        string   `json:"trial_period"`
	EntitlementIDs     []string `json:"entitlement_ids"`
}

func (s *Server) CreateProduct(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Err(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	product := &storage.Product{
		AppID:              c.Param("id"),
		StoreProductID:     req.StoreProductID,
		ProductType:        storage.ProductType(req.ProductType),
		DisplayName:        req.DisplayName,
		Description:        req.Description,
		SubscriptionPeriod: req.SubscriptionPeriod,
		TrialPeriod:        req.TrialPeriod,
	}
	if err := s.Products.Create(product, req.EntitlementIDs); err != nil {
		response.Err(c, err)
		return
	}
	response.Created(c, product)
}

func (s *Server) ListProducts(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	products, err := s.Products.ListByApp(c.Param("id"))
	if err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, products)
}

// SyncProducts triggers an immediate product sync (spec §4.6 on-demand path).
func (s *Server) SyncProducts(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	if err := s.ProductSync.SyncNow(c.Request.Context(), c.Param("id")); err != nil {
		response.Err(c, err)
		return
	}
	response.OK(c, gin.H{"synced": true})
}

// OfferingView is a product projected for client consumption, with
// resolved entitlement names instead of IDs (spec §6 "Offering" / GLOSSARY).
type OfferingView struct {
	StoreProductID     string   `json:"store_product_id"`
	ProductType        string   `json:"product_type"`
	DisplayName        string   `json:"display_name,omitempty"`
	Description        string   `json:"description,omitempty"`
	PriceMicros        *int64   `json:"price_micros,omitempty"`
	Currency           string   `json:"currency,omitempty"`
	SubscriptionPeriod string   `json:"subscription_period,omitempty"`
	TrialPeriod        string   `json:"trial_period,omitempty"`
	Entitlements       []string `json:"entitlements"`
}

func (s *Server) ListOfferings(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	products, err := s.Products.ListByApp(c.Param("id"))
	if err != nil {
		response.Err(c, err)
		return
	}

	offerings := make([]OfferingView, 0, len(products))
	for _, p := range products {
		names := make([]string, 0, len(p.Entitlements))
		for _, e := range p.Entitlements {
			names = append(names, e.Name)
		}
		offerings = append(offerings, OfferingView{
			StoreProductID:     p.StoreProductID,
			ProductType:        string(p.ProductType),
			DisplayName:        p.DisplayName,
			Description:        p.Description,
			PriceMicros:        p.PriceMicros,
			Currency:           p.Currency,
			SubscriptionPeriod: p.SubscriptionPeriod,
			TrialPeriod:        p.TrialPeriod,
			Entitlements:       names,
		})
	}
	response.OK(c, offerings)
}
