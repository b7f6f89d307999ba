// Package productsync periodically reconciles each app's product catalog
// with its store (spec.md §4.6), generalizing the teacher's absence of any
// scheduled job into a per-(app, store) timer goroutine.
package productsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"opencat/internal/events"
	"opencat/internal/storage"
	"opencat/internal/storeadapter"
	"opencat/pkg/logging"
)

// CredentialLoader mirrors receipts.CredentialLoader to avoid a storeadapter
// cycle; both packages consume the same concrete StoredCredentialLoader.
type CredentialLoader interface {
	Load(ctx context.Context, appID string, store storage.Store) (storeadapter.Credentials, error)
}

// Scheduler runs one timer per (app, store) pair that has credentials
// configured, invoking Adapter.FetchProducts on an interval and via an
// on-demand trigger (spec §4.6).
type Scheduler struct {
	db          *gorm.DB
	apps        *storage.AppRepo
	products    *storage.ProductRepo
	credentials CredentialLoader
	adapters    map[storage.Store]storeadapter.Adapter
	allocator   events.Allocator
	interval    time.Duration
	timeout     time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewScheduler(
	db *gorm.DB,
	apps *storage.AppRepo,
	products *storage.ProductRepo,
	credentials CredentialLoader,
	adapters map[storage.Store]storeadapter.Adapter,
	allocator events.Allocator,
	interval, timeout time.Duration,
) *Scheduler {
	return &Scheduler{
		db:          db,
		apps:        apps,
		products:    products,
		credentials: credentials,
		adapters:    adapters,
		allocator:   allocator,
		interval:    interval,
		timeout:     timeout,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Start launches a timer goroutine for every (app, store) pair.
func (s *Scheduler) Start(ctx context.Context) error {
	apps, err := s.apps.List()
	if err != nil {
		return fmt.Errorf("failed to list apps for product sync: %w", err)
	}
	for _, app := range apps {
		s.ensureTimer(ctx, app)
	}
	return nil
}

func (s *Scheduler) ensureTimer(ctx context.Context, app storage.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cancels[app.ID]; ok {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancels[app.ID] = cancel
	go s.run(runCtx, app)
}

func (s *Scheduler) run(ctx context.Context, app storage.App) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.SyncNow(ctx, app.ID); err != nil {
			logging.Warnf("product sync for app %s failed: %v", app.ID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncNow runs the four-step sync for one app immediately (spec §4.6),
// used both by the timer loop and the on-demand POST /v1/apps/{id}/products/sync
// endpoint.
func (s *Scheduler) SyncNow(ctx context.Context, appID string) error {
	app, err := s.apps.GetByID(appID)
	if err != nil {
		return err
	}

	store := storeOf(app.Platform)
	adapter, ok := s.adapters[store]
	if !ok {
		return fmt.Errorf("no adapter registered for store %q", store)
	}

	creds, err := s.credentials.Load(ctx, appID, store)
	if err != nil {
		return err
	}

	existing, err := s.products.ListByApp(appID)
	if err != nil {
		return err
	}
	storeProductIDs := make([]string, len(existing))
	for i, p := range existing {
		storeProductIDs[i] = p.StoreProductID
	}
	if len(storeProductIDs) == 0 {
		return nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	infos, err := adapter.FetchProducts(syncCtx, creds, storeProductIDs)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, info := range infos {
		product := &storage.Product{
			AppID:              appID,
			StoreProductID:     info.StoreProductID,
			ProductType:        info.ProductType,
			DisplayName:        info.DisplayName,
			Description:        info.Description,
			PriceMicros:        info.PriceMicros,
			Currency:           info.Currency,
			SubscriptionPeriod: info.SubscriptionPeriod,
			TrialPeriod:        info.TrialPeriod,
			LastSyncedAt:       &now,
		}
		if err := s.products.UpsertFromSync(product); err != nil {
			return fmt.Errorf("failed to upsert synced product %s: %w", info.StoreProductID, err)
		}
	}

	return s.emitSynced(appID, len(infos))
}

func (s *Scheduler) emitSynced(appID string, count int) error {
	payload, err := json.Marshal(map[string]interface{}{"products_synced": count})
	if err != nil {
		return fmt.Errorf("failed to marshal sync event payload: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.allocator.Append(tx, appID, &storage.Event{
			EventType: storage.EventProductSynced,
			Payload:   string(payload),
		})
	})
}

func storeOf(platform storage.Platform) storage.Store {
	if platform == storage.PlatformGoogle {
		return storage.StoreGoogle
	}
	return storage.StoreApple
}
