package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRepo_UpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := &TransactionRepo{db: db}

	expires := time.Now().Add(365 * 24 * time.Hour)
	txn := &Transaction{
		SubscriberID:       "sub-1",
		ProductID:          "product-1",
		Store:              StoreApple,
		StoreTransactionID: "20000000000001",
		PurchaseDate:       time.Now(),
		ExpirationDate:     &expires,
		Status:             StatusActive,
	}
	require.NoError(t, repo.Upsert(nil, txn))
	firstID := txn.ID
	assert.NotEmpty(t, firstID)

	var count int64
	db.Model(&Transaction{}).Count(&count)
	assert.Equal(t, int64(1), count)

	// Resubmitting the same store_transaction_id updates in place.
	again := &Transaction{
		SubscriberID:       "sub-1",
		ProductID:          "product-1",
		Store:              StoreApple,
		StoreTransactionID: "20000000000001",
		PurchaseDate:       time.Now(),
		ExpirationDate:     &expires,
		Status:             StatusRefunded,
	}
	require.NoError(t, repo.Upsert(nil, again))
	assert.Equal(t, firstID, again.ID)

	db.Model(&Transaction{}).Count(&count)
	assert.Equal(t, int64(1), count)

	fetched, err := repo.Existing(nil, StoreApple, "20000000000001")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, fetched.Status)
}
