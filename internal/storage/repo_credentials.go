package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"opencat/internal/apperr"
)

// CredentialsRepo persists per-app store credentials as opaque ciphertext
// (spec §4.7). Callers are responsible for encrypting/decrypting with
// internal/cryptor; this repo never sees plaintext and never returns
// ciphertext through read paths meant for display.
type CredentialsRepo struct {
	db *gorm.DB
}

func NewCredentialsRepo() *CredentialsRepo {
	return &CredentialsRepo{db: GetDB()}
}

// NewCredentialsRepoForTest builds a CredentialsRepo against a
// caller-supplied db, letting tests use an in-memory sqlite connection
// instead of the process-wide GetDB().
func NewCredentialsRepoForTest(db *gorm.DB) *CredentialsRepo {
	return &CredentialsRepo{db: db}
}

// SetApple upserts the Apple credential ciphertext for an app.
func (r *CredentialsRepo) SetApple(appID, issuerID, keyID string, ciphertext []byte) error {
	creds := &StoreCredentials{
		AppID:              appID,
		AppleIssuerID:      issuerID,
		AppleKeyID:         keyID,
		AppleCiphertext:    ciphertext,
		HasAppleCredential: true,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"apple_issuer_id", "apple_key_id", "apple_ciphertext", "has_apple_credential", "updated_at",
		}),
	}).Create(creds).Error
}

// SetGoogle upserts the Google credential ciphertext for an app.
func (r *CredentialsRepo) SetGoogle(appID string, ciphertext []byte) error {
	creds := &StoreCredentials{
		AppID:               appID,
		GoogleCiphertext:    ciphertext,
		HasGoogleCredential: true,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"google_ciphertext", "has_google_credential", "updated_at",
		}),
	}).Create(creds).Error
}

// Get returns the raw row, ciphertext included, for decryption by a store
// adapter. Never expose this value directly over the API.
func (r *CredentialsRepo) Get(appID string) (*StoreCredentials, error) {
	var creds StoreCredentials
	if err := r.db.Where("app_id = ?", appID).First(&creds).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.CredentialMissing("no store credentials configured for app %s", appID)
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &creds, nil
}

// Status is the masked view returned by the credentials GET endpoint
// (spec §6): presence flags only, never key material.
type Status struct {
	HasAppleCredential  bool   `json:"has_apple_credential"`
	AppleIssuerID       string `json:"apple_issuer_id,omitempty"`
	AppleKeyID          string `json:"apple_key_id,omitempty"`
	HasGoogleCredential bool   `json:"has_google_credential"`
}

func (r *CredentialsRepo) GetStatus(appID string) (*Status, error) {
	var creds StoreCredentials
	err := r.db.Where("app_id = ?", appID).First(&creds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Status{
		HasAppleCredential:  creds.HasAppleCredential,
		AppleIssuerID:       creds.AppleIssuerID,
		AppleKeyID:          creds.AppleKeyID,
		HasGoogleCredential: creds.HasGoogleCredential,
	}, nil
}
