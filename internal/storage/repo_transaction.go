package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionRepo provides idempotent Transaction ingestion keyed by
// (store, store_transaction_id) (spec §4.4 step 3, §9: "atomic upsert, not
// read-then-write").
type TransactionRepo struct {
	db *gorm.DB
}

func NewTransactionRepo() *TransactionRepo {
	return &TransactionRepo{db: GetDB()}
}

// NewTransactionRepoForTest builds a TransactionRepo against a
// caller-supplied db, letting tests use an in-memory sqlite connection
// instead of the process-wide GetDB().
func NewTransactionRepoForTest(db *gorm.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Existing returns the current row for (store, storeTransactionID), if any,
// so the caller can diff prior/new status before upserting.
func (r *TransactionRepo) Existing(tx *gorm.DB, store Store, storeTransactionID string) (*Transaction, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	var t Transaction
	err := db.Where("store = ? AND store_transaction_id = ?", store, storeTransactionID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Upsert inserts or updates a transaction in a single atomic statement,
// never read-then-write, to stay correct under concurrent duplicate
// receipt submissions for the same transaction.
func (r *TransactionRepo) Upsert(tx *gorm.DB, t *Transaction) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "store"}, {Name: "store_transaction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscriber_id", "product_id", "purchase_date", "expiration_date",
			"status", "raw_receipt", "updated_at",
		}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}
	// Re-read to pick up the server-assigned ID when the row already
	// existed (Create's OnConflict path doesn't populate t.ID on update).
	if t.ID == "" {
		existing, err := r.Existing(tx, t.Store, t.StoreTransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			t.ID = existing.ID
		}
	}
	return nil
}

func (r *TransactionRepo) ListBySubscriber(subscriberID string) ([]Transaction, error) {
	var txns []Transaction
	if err := r.db.Where("subscriber_id = ?", subscriberID).Order("purchase_date asc").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
