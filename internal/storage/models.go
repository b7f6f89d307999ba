// Package storage holds the gorm models and repositories backing OpenCat's
// durable state: apps, subscribers, transactions, events, webhooks and
// encrypted store credentials (spec §3).
package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models, generalizing
// the teacher's BaseModel to string (UUID) primary keys since spec §3
// mandates opaque string IDs rather than autoincrement integers.
type BaseModel struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate assigns a UUID primary key when one hasn't been set.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Platform enumerates the App.platform values.
type Platform string

const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
	PlatformCross  Platform = "cross"
)

// Store enumerates the originating store of a Transaction.
type Store string

const (
	StoreApple  Store = "apple"
	StoreGoogle Store = "google"
)

// App is a registered mobile application (spec §3).
type App struct {
	BaseModel
	Name       string   `json:"name" gorm:"not null"`
	Platform   Platform `json:"platform" gorm:"size:20;not null"`
	BundleID   string   `json:"bundle_id" gorm:"uniqueIndex;size:255;not null"`
	APIKeyHash string   `json:"-" gorm:"uniqueIndex;size:64;not null"`

	// APIKey carries the plaintext bearer token on creation only; it is
	// never persisted (gorm:"-") and is blank on every subsequent read.
	APIKey string `json:"api_key,omitempty" gorm:"-"`
}

// StoreCredentials holds per-app encrypted store credentials (spec §4.7).
// Secret fields are stored as AEAD ciphertext; Apple and Google variants
// share one row, with the unused variant's ciphertext left empty.
type StoreCredentials struct {
	BaseModel
	AppID string `json:"app_id" gorm:"uniqueIndex;size:36;not null"`

	// Apple variant
	AppleIssuerID      string `json:"-"`
	AppleKeyID         string `json:"-"`
	AppleCiphertext    []byte `json:"-" gorm:"type:bytea"`
	HasAppleCredential bool   `json:"-"`

	// Google variant
	GoogleCiphertext    []byte `json:"-" gorm:"type:bytea"`
	HasGoogleCredential bool   `json:"-"`
}

// Entitlement is a named capability within an app (spec §3).
type Entitlement struct {
	BaseModel
	AppID       string `json:"app_id" gorm:"uniqueIndex:idx_entitlement_app_name;size:36;not null"`
	Name        string `json:"name" gorm:"uniqueIndex:idx_entitlement_app_name;size:255;not null"`
	Description string `json:"description,omitempty"`
}

// ProductType enumerates Product.product_type values.
type ProductType string

const (
	ProductTypeSubscription ProductType = "subscription"
	ProductTypeOneTime      ProductType = "one_time"
	ProductTypeConsumable   ProductType = "consumable"
)

// Product is a store SKU (spec §3), joined many-to-many with Entitlement.
type Product struct {
	BaseModel
	AppID             string      `json:"app_id" gorm:"uniqueIndex:idx_product_app_store_id;size:36;not null"`
	StoreProductID    string      `json:"store_product_id" gorm:"uniqueIndex:idx_product_app_store_id;size:255;not null"`
	ProductType       ProductType `json:"product_type" gorm:"size:20;not null"`
	DisplayName       string      `json:"display_name,omitempty"`
	Description       string      `json:"description,omitempty"`
	PriceMicros       *int64      `json:"price_micros,omitempty"`
	Currency          string      `json:"currency,omitempty" gorm:"size:10"`
	SubscriptionPeriod string     `json:"subscription_period,omitempty" gorm:"size:32"`
	TrialPeriod       string      `json:"trial_period,omitempty" gorm:"size:32"`
	LastSyncedAt      *time.Time  `json:"last_synced_at,omitempty"`
	StaleSince        *time.Time  `json:"stale_since,omitempty"`

	Entitlements []Entitlement `json:"entitlements,omitempty" gorm:"many2many:product_entitlements;"`
}

// Subscriber is an end-user identity scoped to an app (spec §3).
type Subscriber struct {
	BaseModel
	AppID     string `json:"app_id" gorm:"uniqueIndex:idx_subscriber_app_user;size:36;not null"`
	AppUserID string `json:"app_user_id" gorm:"uniqueIndex:idx_subscriber_app_user;size:255;not null"`
}

// TransactionStatus enumerates normalized store statuses (spec §4.2).
type TransactionStatus string

const (
	StatusActive       TransactionStatus = "active"
	StatusExpired      TransactionStatus = "expired"
	StatusRefunded     TransactionStatus = "refunded"
	StatusGracePeriod  TransactionStatus = "grace_period"
	StatusBillingRetry TransactionStatus = "billing_retry"
)

// Transaction is one verified purchase/renewal/refund record (spec §3).
type Transaction struct {
	BaseModel
	SubscriberID       string            `json:"subscriber_id" gorm:"index;size:36;not null"`
	ProductID          string            `json:"product_id" gorm:"index;size:36;not null"`
	Store              Store             `json:"store" gorm:"uniqueIndex:idx_txn_store_id;size:20;not null"`
	StoreTransactionID string            `json:"store_transaction_id" gorm:"uniqueIndex:idx_txn_store_id;size:255;not null"`
	PurchaseDate       time.Time         `json:"purchase_date"`
	ExpirationDate     *time.Time        `json:"expiration_date,omitempty"`
	Status             TransactionStatus `json:"status" gorm:"size:20;not null"`
	RawReceipt         string            `json:"-" gorm:"type:text"`
}

// EventType enumerates the domain event taxonomy (spec §4.4).
type EventType string

const (
	EventInitialPurchase     EventType = "INITIAL_PURCHASE"
	EventRenewal             EventType = "RENEWAL"
	EventProductChange       EventType = "PRODUCT_CHANGE"
	EventCancellation        EventType = "CANCELLATION"
	EventUncancellation      EventType = "UNCANCELLATION"
	EventBillingIssue        EventType = "BILLING_ISSUE"
	EventGracePeriodEntered  EventType = "GRACE_PERIOD_ENTERED"
	EventExpiration          EventType = "EXPIRATION"
	EventRefund              EventType = "REFUND"
	EventNonRenewingPurchase EventType = "NON_RENEWING_PURCHASE"
	EventTransactionCreated  EventType = "TRANSACTION_CREATED"
	EventTransactionUpdated  EventType = "TRANSACTION_UPDATED"
	EventProductSynced       EventType = "PRODUCT_SYNCED"
)

// Event is an immutable domain event, strictly ordered per app (spec §3).
type Event struct {
	BaseModel
	AppID        string    `json:"app_id" gorm:"uniqueIndex:idx_event_app_seq;size:36;not null"`
	SubscriberID *string   `json:"subscriber_id,omitempty" gorm:"size:36"`
	EventType    EventType `json:"event_type" gorm:"size:40;not null"`
	Payload      string    `json:"payload" gorm:"type:text"`
	Sequence     int64     `json:"sequence" gorm:"uniqueIndex:idx_event_app_seq;not null"`
}

// WebhookEndpoint is a registered delivery target for domain events (spec §3).
type WebhookEndpoint struct {
	BaseModel
	AppID          string `json:"app_id" gorm:"index;size:36;not null"`
	URL            string `json:"url" gorm:"not null"`
	Secret         string `json:"-"`
	Active         bool   `json:"active" gorm:"default:true"`
	DeliveryCursor int64  `json:"delivery_cursor" gorm:"default:0"`
}

// WebhookDeadLetter records an event permanently failed for an endpoint
// after exhausting retries (spec §4.5 step 6 / §9 dead-letter semantics).
type WebhookDeadLetter struct {
	BaseModel
	EndpointID string `json:"endpoint_id" gorm:"index;size:36;not null"`
	EventID    string `json:"event_id" gorm:"size:36;not null"`
	Sequence   int64  `json:"sequence"`
	LastError  string `json:"last_error" gorm:"type:text"`
	Attempts   int    `json:"attempts"`
}

// AllModels lists every model migrated at startup.
func AllModels() []interface{} {
	return []interface{}{
		&App{},
		&StoreCredentials{},
		&Entitlement{},
		&Product{},
		&Subscriber{},
		&Transaction{},
		&Event{},
		&WebhookEndpoint{},
		&WebhookDeadLetter{},
	}
}
