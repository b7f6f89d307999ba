package receipts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"opencat/internal/events"
	"opencat/internal/storage"
	"opencat/internal/storeadapter"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(storage.AllModels()...))
	return db
}

// fakeCredentialLoader hands back empty credentials; store adapters in
// these tests don't validate them, so an empty value is sufficient.
type fakeCredentialLoader struct{}

func (fakeCredentialLoader) Load(ctx context.Context, appID string, store storage.Store) (storeadapter.Credentials, error) {
	return storeadapter.Credentials{}, nil
}

// fakeAdapter lets each test script canned VerifyReceipt/RefreshTransaction
// responses keyed by the receipt/transaction id handed in.
type fakeAdapter struct {
	byReceipt     map[string]storeadapter.VerifiedTransaction
	byTransaction map[string]storeadapter.VerifiedTransaction
}

func (f *fakeAdapter) VerifyReceipt(ctx context.Context, creds storeadapter.Credentials, receipt string) ([]storeadapter.VerifiedTransaction, error) {
	vt, ok := f.byReceipt[receipt]
	if !ok {
		return nil, assert.AnError
	}
	return []storeadapter.VerifiedTransaction{vt}, nil
}

func (f *fakeAdapter) RefreshTransaction(ctx context.Context, creds storeadapter.Credentials, storeTransactionID string) (*storeadapter.VerifiedTransaction, error) {
	vt, ok := f.byTransaction[storeTransactionID]
	if !ok {
		return nil, nil
	}
	return &vt, nil
}

func (f *fakeAdapter) FetchProducts(ctx context.Context, creds storeadapter.Credentials, storeProductIDs []string) ([]storeadapter.ProductInfo, error) {
	return nil, nil
}

func newTestPipeline(t *testing.T, db *gorm.DB, adapter storeadapter.Adapter) (*Pipeline, *storage.ProductRepo) {
	t.Helper()
	subscribers := storage.NewSubscriberRepoForTest(db)
	transactions := storage.NewTransactionRepoForTest(db)
	products := storage.NewProductRepoForTest(db)
	eventRepo := storage.NewEventRepoForTest(db)
	allocator := events.NewSingleNodeAllocator(eventRepo)

	adapters := map[storage.Store]storeadapter.Adapter{storage.StoreApple: adapter}
	pipeline := New(db, subscribers, transactions, products, allocator, fakeCredentialLoader{}, adapters, nil)
	return pipeline, products
}

func createProduct(t *testing.T, products *storage.ProductRepo, appID, storeProductID string) *storage.Product {
	t.Helper()
	p := &storage.Product{
		AppID:          appID,
		StoreProductID: storeProductID,
		ProductType:    storage.ProductTypeSubscription,
	}
	require.NoError(t, products.Create(p, nil))
	return p
}

func TestIngest_FreshPurchaseCreatesTransactionAndEvent(t *testing.T) {
	db := newTestDB(t)
	appID := "app-1"
	adapter := &fakeAdapter{byReceipt: map[string]storeadapter.VerifiedTransaction{
		"receipt-1": {
			StoreTransactionID: "txn-1",
			StoreProductID:     "monthly",
			PurchaseDate:       time.Now(),
			ExpirationDate:     timePtr(time.Now().Add(30 * 24 * time.Hour)),
			Status:             storage.StatusActive,
		},
	}}
	pipeline, products := newTestPipeline(t, db, adapter)
	createProduct(t, products, appID, "monthly")

	info, err := pipeline.Ingest(context.Background(), appID, Request{
		AppUserID:   "user-1",
		Store:       string(storage.StoreApple),
		ReceiptData: "receipt-1",
	})
	require.NoError(t, err)
	assert.Len(t, info.AllTransactions, 1)
	assert.Equal(t, storage.StatusActive, info.AllTransactions[0].Status)

	var eventCount int64
	require.NoError(t, db.Model(&storage.Event{}).Where("app_id = ?", appID).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestIngest_RetryWithSameTransactionIDIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	appID := "app-1"
	adapter := &fakeAdapter{byReceipt: map[string]storeadapter.VerifiedTransaction{
		"receipt-1": {
			StoreTransactionID: "txn-1",
			StoreProductID:     "monthly",
			PurchaseDate:       time.Now(),
			ExpirationDate:     timePtr(time.Now().Add(30 * 24 * time.Hour)),
			Status:             storage.StatusActive,
		},
	}}
	pipeline, products := newTestPipeline(t, db, adapter)
	createProduct(t, products, appID, "monthly")

	req := Request{AppUserID: "user-1", Store: string(storage.StoreApple), ReceiptData: "receipt-1"}
	_, err := pipeline.Ingest(context.Background(), appID, req)
	require.NoError(t, err)
	_, err = pipeline.Ingest(context.Background(), appID, req)
	require.NoError(t, err)

	var txnCount int64
	require.NoError(t, db.Model(&storage.Transaction{}).Where("store_transaction_id = ?", "txn-1").Count(&txnCount).Error)
	assert.Equal(t, int64(1), txnCount)
}

func TestIngest_RefundTransitionsStatusAndEmitsEvent(t *testing.T) {
	db := newTestDB(t)
	appID := "app-1"
	active := storeadapter.VerifiedTransaction{
		StoreTransactionID: "txn-1",
		StoreProductID:     "monthly",
		PurchaseDate:       time.Now(),
		ExpirationDate:     timePtr(time.Now().Add(30 * 24 * time.Hour)),
		Status:             storage.StatusActive,
	}
	adapter := &fakeAdapter{byReceipt: map[string]storeadapter.VerifiedTransaction{"receipt-1": active}}
	pipeline, products := newTestPipeline(t, db, adapter)
	createProduct(t, products, appID, "monthly")

	req := Request{AppUserID: "user-1", Store: string(storage.StoreApple), ReceiptData: "receipt-1"}
	_, err := pipeline.Ingest(context.Background(), appID, req)
	require.NoError(t, err)

	refunded := active
	refunded.Status = storage.StatusRefunded
	adapter.byReceipt["receipt-1"] = refunded
	info, err := pipeline.Ingest(context.Background(), appID, req)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusRefunded, info.AllTransactions[0].Status)
	assert.Empty(t, info.ActiveEntitlements)

	var eventCount int64
	require.NoError(t, db.Model(&storage.Event{}).Where("app_id = ?", appID).Count(&eventCount).Error)
	assert.Equal(t, int64(2), eventCount)
}

func TestCustomerInfo_ReadsWithoutContactingStore(t *testing.T) {
	db := newTestDB(t)
	appID := "app-1"
	adapter := &fakeAdapter{byReceipt: map[string]storeadapter.VerifiedTransaction{
		"receipt-1": {
			StoreTransactionID: "txn-1",
			StoreProductID:     "monthly",
			PurchaseDate:       time.Now(),
			ExpirationDate:     timePtr(time.Now().Add(30 * 24 * time.Hour)),
			Status:             storage.StatusActive,
		},
	}}
	pipeline, products := newTestPipeline(t, db, adapter)
	createProduct(t, products, appID, "monthly")

	_, err := pipeline.Ingest(context.Background(), appID, Request{
		AppUserID: "user-1", Store: string(storage.StoreApple), ReceiptData: "receipt-1",
	})
	require.NoError(t, err)

	info, err := pipeline.CustomerInfo(appID, "user-1")
	require.NoError(t, err)
	assert.Len(t, info.AllTransactions, 1)
}

func TestRestore_ReVerifiesKnownTransactions(t *testing.T) {
	db := newTestDB(t)
	appID := "app-1"
	active := storeadapter.VerifiedTransaction{
		StoreTransactionID: "txn-1",
		StoreProductID:     "monthly",
		PurchaseDate:       time.Now(),
		ExpirationDate:     timePtr(time.Now().Add(30 * 24 * time.Hour)),
		Status:             storage.StatusActive,
	}
	adapter := &fakeAdapter{
		byReceipt:     map[string]storeadapter.VerifiedTransaction{"receipt-1": active},
		byTransaction: map[string]storeadapter.VerifiedTransaction{},
	}
	pipeline, products := newTestPipeline(t, db, adapter)
	createProduct(t, products, appID, "monthly")

	_, err := pipeline.Ingest(context.Background(), appID, Request{
		AppUserID: "user-1", Store: string(storage.StoreApple), ReceiptData: "receipt-1",
	})
	require.NoError(t, err)

	expired := active
	expired.Status = storage.StatusExpired
	adapter.byTransaction["txn-1"] = expired

	info, err := pipeline.Restore(context.Background(), appID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusExpired, info.AllTransactions[0].Status)
	assert.Empty(t, info.ActiveEntitlements)
}

func timePtr(t time.Time) *time.Time { return &t }
