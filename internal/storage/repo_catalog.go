package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"opencat/internal/apperr"
)

// EntitlementRepo provides Entitlement CRUD (spec §6).
type EntitlementRepo struct {
	db *gorm.DB
}

func NewEntitlementRepo() *EntitlementRepo {
	return &EntitlementRepo{db: GetDB()}
}

func (r *EntitlementRepo) Create(e *Entitlement) error {
	if err := r.db.Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("entitlement %s already exists for this app", e.Name)
		}
		return fmt.Errorf("failed to create entitlement: %w", err)
	}
	return nil
}

func (r *EntitlementRepo) ListByApp(appID string) ([]Entitlement, error) {
	var ents []Entitlement
	if err := r.db.Where("app_id = ?", appID).Order("created_at asc").Find(&ents).Error; err != nil {
		return nil, err
	}
	return ents, nil
}

// ProductRepo provides Product CRUD and the entitlement-link join table
// (spec §3 "Joined many-to-many with Entitlement through product_entitlements").
type ProductRepo struct {
	db *gorm.DB
}

func NewProductRepo() *ProductRepo {
	return &ProductRepo{db: GetDB()}
}

// NewProductRepoForTest builds a ProductRepo against a caller-supplied db.
func NewProductRepoForTest(db *gorm.DB) *ProductRepo {
	return &ProductRepo{db: db}
}

func (r *ProductRepo) Create(p *Product, entitlementIDs []string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("product %s already exists for this app", p.StoreProductID)
			}
			return fmt.Errorf("failed to create product: %w", err)
		}
		if len(entitlementIDs) > 0 {
			var ents []Entitlement
			if err := tx.Where("id IN ?", entitlementIDs).Find(&ents).Error; err != nil {
				return err
			}
			if err := tx.Model(p).Association("Entitlements").Append(&ents); err != nil {
				return fmt.Errorf("failed to link entitlements: %w", err)
			}
		}
		return nil
	})
}

func (r *ProductRepo) ListByApp(appID string) ([]Product, error) {
	var products []Product
	if err := r.db.Preload("Entitlements").Where("app_id = ?", appID).Order("created_at asc").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepo) GetByID(id string) (*Product, error) {
	var p Product
	if err := r.db.Preload("Entitlements").Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product %s not found", id)
		}
		return nil, err
	}
	return &p, nil
}

// UpsertFromSync upserts a product discovered via Product Sync (spec §4.6),
// keyed by (app_id, store_product_id), without deleting products absent
// from the store response.
func (r *ProductRepo) UpsertFromSync(p *Product) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_id"}, {Name: "store_product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "description", "price_micros", "currency",
			"subscription_period", "trial_period", "last_synced_at", "updated_at",
		}),
	}).Create(p).Error
}
