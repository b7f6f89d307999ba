package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriberRepo provides Subscriber lookup/creation, scoped per app.
type SubscriberRepo struct {
	db *gorm.DB
}

func NewSubscriberRepo() *SubscriberRepo {
	return &SubscriberRepo{db: GetDB()}
}

// NewSubscriberRepoForTest builds a SubscriberRepo against a
// caller-supplied db, letting tests use an in-memory sqlite connection
// instead of the process-wide GetDB().
func NewSubscriberRepoForTest(db *gorm.DB) *SubscriberRepo {
	return &SubscriberRepo{db: db}
}

// GetOrCreate resolves a subscriber by (app_id, app_user_id), creating one
// if absent (spec §4.4 step 1: "resolve or create the Subscriber").
func (r *SubscriberRepo) GetOrCreate(tx *gorm.DB, appID, appUserID string) (*Subscriber, error) {
	db := r.db
	if tx != nil {
		db = tx
	}

	var sub Subscriber
	err := db.Where("app_id = ? AND app_user_id = ?", appID, appUserID).First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sub = Subscriber{AppID: appID, AppUserID: appUserID}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "app_user_id"}},
		DoNothing: true,
	}).Create(&sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}
	if sub.ID == "" {
		// Lost the create race; re-read the row the winner inserted.
		if err := db.Where("app_id = ? AND app_user_id = ?", appID, appUserID).First(&sub).Error; err != nil {
			return nil, err
		}
	}
	return &sub, nil
}

func (r *SubscriberRepo) GetByID(id string) (*Subscriber, error) {
	var sub Subscriber
	if err := r.db.Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
