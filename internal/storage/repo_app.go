package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"opencat/internal/apperr"
)

// AppRepo provides App aggregate operations, generalizing the teacher's
// ProjectService to the App entity.
type AppRepo struct {
	db *gorm.DB
}

func NewAppRepo() *AppRepo {
	return &AppRepo{db: GetDB()}
}

// NewAppRepoForTest builds an AppRepo against a caller-supplied db, letting
// tests use an isolated in-memory connection instead of the process-wide one.
func NewAppRepoForTest(db *gorm.DB) *AppRepo {
	return &AppRepo{db: db}
}

// Create persists a new App, minting a bearer API key (spec §6 auth). The
// plaintext key is set on app.APIKey for the caller to return exactly once;
// only its SHA-256 hash is stored.
func (r *AppRepo) Create(app *App) error {
	key, err := generateAPIKey()
	if err != nil {
		return fmt.Errorf("failed to generate api key: %w", err)
	}
	app.APIKeyHash = hashAPIKey(key)

	if err := r.db.Create(app).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("app with bundle_id %s already exists", app.BundleID)
		}
		return fmt.Errorf("failed to create app: %w", err)
	}
	app.APIKey = key
	return nil
}

// GetByAPIKey resolves the App owning a bearer token, used by
// middleware.APIKeyAuth to scope each request.
func (r *AppRepo) GetByAPIKey(key string) (*App, error) {
	var app App
	if err := r.db.Where("api_key_hash = ?", hashAPIKey(key)).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Auth("invalid api key")
		}
		return nil, err
	}
	return &app, nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "oc_" + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (r *AppRepo) GetByID(id string) (*App, error) {
	var app App
	if err := r.db.Where("id = ?", id).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("app %s not found", id)
		}
		return nil, err
	}
	return &app, nil
}

func (r *AppRepo) List() ([]App, error) {
	var apps []App
	if err := r.db.Order("created_at asc").Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

// isUniqueViolation is a best-effort classifier for unique-constraint
// errors across the postgres and sqlite drivers this repo supports.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"duplicate key value", "UNIQUE constraint failed", "violates unique constraint"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
