package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"opencat/internal/apperr"
)

// WebhookRepo manages endpoint registration, cursor advancement and
// dead-letter recording (spec §4.5, §6).
type WebhookRepo struct {
	db *gorm.DB
}

func NewWebhookRepo() *WebhookRepo {
	return &WebhookRepo{db: GetDB()}
}

// NewWebhookRepoForTest builds a WebhookRepo against a caller-supplied db,
// letting tests use an in-memory sqlite connection instead of the
// process-wide GetDB().
func NewWebhookRepoForTest(db *gorm.DB) *WebhookRepo {
	return &WebhookRepo{db: db}
}

func (r *WebhookRepo) Create(ep *WebhookEndpoint) error {
	if err := r.db.Create(ep).Error; err != nil {
		return fmt.Errorf("failed to create webhook endpoint: %w", err)
	}
	return nil
}

func (r *WebhookRepo) ListByApp(appID string) ([]WebhookEndpoint, error) {
	var eps []WebhookEndpoint
	if err := r.db.Where("app_id = ?", appID).Order("created_at asc").Find(&eps).Error; err != nil {
		return nil, err
	}
	return eps, nil
}

func (r *WebhookRepo) ListActive() ([]WebhookEndpoint, error) {
	var eps []WebhookEndpoint
	if err := r.db.Where("active = ?", true).Find(&eps).Error; err != nil {
		return nil, err
	}
	return eps, nil
}

func (r *WebhookRepo) GetByID(id string) (*WebhookEndpoint, error) {
	var ep WebhookEndpoint
	if err := r.db.Where("id = ?", id).First(&ep).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("webhook endpoint %s not found", id)
		}
		return nil, err
	}
	return &ep, nil
}

// AdvanceCursor persists the endpoint's delivery cursor after a successful
// delivery, so dispatch resumes from the right event on restart.
func (r *WebhookRepo) AdvanceCursor(endpointID string, sequence int64) error {
	return r.db.Model(&WebhookEndpoint{}).
		Where("id = ?", endpointID).
		Update("delivery_cursor", sequence).Error
}

// RecordDeadLetter records a permanently failed delivery after retries are
// exhausted (spec §4.5 step 6).
func (r *WebhookRepo) RecordDeadLetter(dl *WebhookDeadLetter) error {
	if err := r.db.Create(dl).Error; err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}
	return nil
}

func (r *WebhookRepo) ListDeadLetters(endpointID string) ([]WebhookDeadLetter, error) {
	var dls []WebhookDeadLetter
	if err := r.db.Where("endpoint_id = ?", endpointID).Order("created_at asc").Find(&dls).Error; err != nil {
		return nil, err
	}
	return dls, nil
}
