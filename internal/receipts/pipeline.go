// Package receipts implements the six-step Receipt Pipeline (spec.md §4.4),
// generalizing the teacher's VerifyAppleTransaction/VerifyGooglePlayPurchase
// + CreateOrUpdateSubscription flow into a store-neutral pipeline driven by
// internal/storeadapter.Adapter.
package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"opencat/internal/apperr"
	"opencat/internal/events"
	"opencat/internal/resolver"
	"opencat/internal/storage"
	"opencat/internal/storeadapter"
)

// Request is the inbound shape of POST /v1/receipts (spec §4.4). AppID is
// never read from the body: the API layer scopes every ingest to the
// authenticated caller's app.
type Request struct {
	AppUserID         string `json:"app_user_id" binding:"required"`
	Store             string `json:"store" binding:"required"`
	ProductID         string `json:"product_id"`
	ReceiptData       string `json:"receipt_data"`
	JWSRepresentation string `json:"jws_representation"`
}

// Pipeline wires the adapters, storage repos and resolver into the
// ingest-a-receipt operation.
type Pipeline struct {
	db           *gorm.DB
	subscribers  *storage.SubscriberRepo
	transactions *storage.TransactionRepo
	products     *storage.ProductRepo
	allocator    events.Allocator
	credentials  CredentialLoader
	adapters     map[storage.Store]storeadapter.Adapter
	publish      func(ctx context.Context, appID string)
}

// CredentialLoader resolves decrypted store credentials for an app, kept
// as an interface so the pipeline doesn't depend on internal/cryptor
// directly (spec §4.7's credential handling lives at the API/credential
// layer, not here).
type CredentialLoader interface {
	Load(ctx context.Context, appID string, store storage.Store) (storeadapter.Credentials, error)
}

func New(
	db *gorm.DB,
	subscribers *storage.SubscriberRepo,
	transactions *storage.TransactionRepo,
	products *storage.ProductRepo,
	allocator events.Allocator,
	credentials CredentialLoader,
	adapters map[storage.Store]storeadapter.Adapter,
	publish func(ctx context.Context, appID string),
) *Pipeline {
	return &Pipeline{
		db:           db,
		subscribers:  subscribers,
		transactions: transactions,
		products:     products,
		allocator:    allocator,
		credentials:  credentials,
		adapters:     adapters,
		publish:      publish,
	}
}

// Ingest runs the six-step pipeline and returns the subscriber's refreshed
// CustomerInfo.
func (p *Pipeline) Ingest(ctx context.Context, appID string, req Request) (*resolver.CustomerInfo, error) {
	store := storage.Store(req.Store)
	adapter, ok := p.adapters[store]
	if !ok {
		return nil, apperr.Validation("unknown store %q", req.Store)
	}

	creds, err := p.credentials.Load(ctx, appID, store)
	if err != nil {
		return nil, err
	}

	receipt := req.JWSRepresentation
	if receipt == "" {
		receipt = req.ReceiptData
	}
	verified, err := adapter.VerifyReceipt(ctx, creds, receipt)
	if err != nil {
		return nil, err
	}
	if len(verified) == 0 {
		return nil, apperr.New(apperr.KindReceiptInvalid, "store returned no transactions for receipt")
	}

	var info *resolver.CustomerInfo
	err = p.db.Transaction(func(tx *gorm.DB) error {
		sub, err := p.subscribers.GetOrCreate(tx, appID, req.AppUserID)
		if err != nil {
			return err
		}

		for _, vt := range verified {
			if err := p.applyTransaction(tx, appID, sub, store, vt); err != nil {
				return err
			}
		}

		txns, err := p.transactionsInTx(tx, sub.ID)
		if err != nil {
			return err
		}
		products, err := p.productEntitlementsInTx(tx, appID)
		if err != nil {
			return err
		}
		resolved := resolver.Resolve(*sub, txns, products, time.Now())
		info = &resolved
		return nil
	})
	if err != nil {
		p.resyncOnFailure(appID)
		return nil, err
	}

	if p.publish != nil {
		p.publish(ctx, appID)
	}
	return info, nil
}

// resyncOnFailure tells a cache-backed allocator to forget its sequence
// counter for appID after a transaction it participated in via
// applyTransaction rolled back, so the next Append re-seeds from storage
// instead of skipping the sequence number the rolled-back insert never
// committed.
func (p *Pipeline) resyncOnFailure(appID string) {
	if r, ok := p.allocator.(events.Resynchronizer); ok {
		r.Resync(appID)
	}
}

// CustomerInfo resolves a subscriber's current entitlement view from
// already-stored data, without contacting any store (spec §6
// GET /v1/subscribers/{app_user_id}).
func (p *Pipeline) CustomerInfo(appID, appUserID string) (*resolver.CustomerInfo, error) {
	sub, err := p.subscribers.GetOrCreate(nil, appID, appUserID)
	if err != nil {
		return nil, err
	}
	txns, err := p.transactions.ListBySubscriber(sub.ID)
	if err != nil {
		return nil, err
	}
	products, err := p.productEntitlements(appID)
	if err != nil {
		return nil, err
	}
	info := resolver.Resolve(*sub, txns, products, time.Now())
	return &info, nil
}

func (p *Pipeline) productEntitlements(appID string) (resolver.ProductEntitlements, error) {
	var products []storage.Product
	if err := p.db.Preload("Entitlements").Where("app_id = ?", appID).Find(&products).Error; err != nil {
		return nil, err
	}
	out := make(resolver.ProductEntitlements, len(products))
	for _, p := range products {
		refs := make([]resolver.EntitlementRef, 0, len(p.Entitlements))
		for _, e := range p.Entitlements {
			refs = append(refs, resolver.EntitlementRef{ID: e.ID, Name: e.Name})
		}
		out[p.ID] = refs
	}
	return out, nil
}

// Restore re-verifies every transaction already on file for a subscriber
// against its store of origin and returns the refreshed CustomerInfo
// (spec §6 "restore purchases").
func (p *Pipeline) Restore(ctx context.Context, appID, appUserID string) (*resolver.CustomerInfo, error) {
	var info *resolver.CustomerInfo
	err := p.db.Transaction(func(tx *gorm.DB) error {
		sub, err := p.subscribers.GetOrCreate(tx, appID, appUserID)
		if err != nil {
			return err
		}

		existing, err := p.transactionsInTx(tx, sub.ID)
		if err != nil {
			return err
		}

		creds := make(map[storage.Store]storeadapter.Credentials)
		for _, t := range existing {
			if _, loaded := creds[t.Store]; loaded {
				continue
			}
			c, err := p.credentials.Load(ctx, appID, t.Store)
			if err != nil {
				return err
			}
			creds[t.Store] = c
		}

		for _, t := range existing {
			adapter, ok := p.adapters[t.Store]
			if !ok {
				continue
			}
			vt, err := adapter.RefreshTransaction(ctx, creds[t.Store], t.StoreTransactionID)
			if err != nil {
				return err
			}
			if vt == nil {
				continue
			}
			if err := p.applyTransaction(tx, appID, sub, t.Store, *vt); err != nil {
				return err
			}
		}

		refreshed, err := p.transactionsInTx(tx, sub.ID)
		if err != nil {
			return err
		}
		products, err := p.productEntitlementsInTx(tx, appID)
		if err != nil {
			return err
		}
		resolved := resolver.Resolve(*sub, refreshed, products, time.Now())
		info = &resolved
		return nil
	})
	if err != nil {
		p.resyncOnFailure(appID)
		return nil, err
	}

	if p.publish != nil {
		p.publish(ctx, appID)
	}
	return info, nil
}

func (p *Pipeline) applyTransaction(tx *gorm.DB, appID string, sub *storage.Subscriber, store storage.Store, vt storeadapter.VerifiedTransaction) error {
	product, err := p.resolveProduct(tx, appID, vt.StoreProductID)
	if err != nil {
		return err
	}

	existing, err := p.transactions.Existing(tx, store, vt.StoreTransactionID)
	if err != nil {
		return err
	}

	txn := &storage.Transaction{
		SubscriberID:       sub.ID,
		ProductID:          product,
		Store:              store,
		StoreTransactionID: vt.StoreTransactionID,
		PurchaseDate:       vt.PurchaseDate,
		ExpirationDate:     vt.ExpirationDate,
		Status:             vt.Status,
		RawReceipt:         vt.RawPayload,
	}
	if existing != nil {
		txn.BaseModel.ID = existing.ID
	}
	if err := p.transactions.Upsert(tx, txn); err != nil {
		return err
	}

	transition := events.Transition{
		IsNew:          existing == nil,
		ProductChanged: existing != nil && existing.ProductID != product,
	}
	if existing != nil {
		transition.PrevStatus = existing.Status
		transition.ExpirationExtended = expirationExtended(existing.ExpirationDate, vt.ExpirationDate)
	}
	transition.NewStatus = vt.Status

	eventType := events.DeriveEventType(transition)
	payload, err := json.Marshal(map[string]interface{}{
		"transaction_id": txn.ID,
		"product_id":     product,
		"status":         vt.Status,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &storage.Event{
		SubscriberID: &sub.ID,
		EventType:    eventType,
		Payload:      string(payload),
	}
	return p.allocator.Append(tx, appID, event)
}

func expirationExtended(prev, next *time.Time) bool {
	if next == nil {
		return prev != nil
	}
	if prev == nil {
		return false
	}
	return next.After(*prev)
}

func (p *Pipeline) resolveProduct(tx *gorm.DB, appID, storeProductID string) (string, error) {
	var product storage.Product
	err := tx.Where("app_id = ? AND store_product_id = ?", appID, storeProductID).First(&product).Error
	if err == nil {
		return product.ID, nil
	}
	return "", apperr.NotFound("product %s is not registered for this app", storeProductID)
}

func (p *Pipeline) transactionsInTx(tx *gorm.DB, subscriberID string) ([]storage.Transaction, error) {
	var txns []storage.Transaction
	if err := tx.Where("subscriber_id = ?", subscriberID).Order("purchase_date asc").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (p *Pipeline) productEntitlementsInTx(tx *gorm.DB, appID string) (resolver.ProductEntitlements, error) {
	var products []storage.Product
	if err := tx.Preload("Entitlements").Where("app_id = ?", appID).Find(&products).Error; err != nil {
		return nil, err
	}
	out := make(resolver.ProductEntitlements, len(products))
	for _, p := range products {
		refs := make([]resolver.EntitlementRef, 0, len(p.Entitlements))
		for _, e := range p.Entitlements {
			refs = append(refs, resolver.EntitlementRef{ID: e.ID, Name: e.Name})
		}
		out[p.ID] = refs
	}
	return out, nil
}
