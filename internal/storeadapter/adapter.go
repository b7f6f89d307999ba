// Package storeadapter normalizes Apple App Store and Google Play into a
// single verification interface (spec §4.2), generalizing the teacher's
// SubscriptionVerificationService (which only half-implemented Google) into
// one adapter per store with a shared result shape.
package storeadapter

import (
	"context"
	"time"

	"opencat/internal/storage"
)

// VerifiedTransaction is a store-neutral view of one purchase/renewal,
// returned by VerifyReceipt and RefreshTransaction (spec §4.2).
type VerifiedTransaction struct {
	StoreTransactionID string
	StoreProductID     string
	PurchaseDate       time.Time
	ExpirationDate     *time.Time
	Status             storage.TransactionStatus
	AppAccountToken    string // opaque app_user_id hint, when the store reports one
	RawPayload         string
}

// ProductInfo is a store-neutral catalog entry returned by FetchProducts
// (spec §4.6).
type ProductInfo struct {
	StoreProductID     string
	ProductType        storage.ProductType
	DisplayName        string
	Description        string
	PriceMicros        *int64
	Currency           string
	SubscriptionPeriod string
	TrialPeriod        string
}

// Credentials bundles the decrypted, store-specific secrets an Adapter
// needs for a given app (spec §4.7). Exactly one of Apple/Google is set.
type Credentials struct {
	AppleIssuerID     string
	AppleKeyID        string
	ApplePrivateKey   []byte // PKCS8 PEM
	BundleID          string

	GoogleServiceAccountJSON []byte
	PackageName              string
}

// Adapter verifies receipts and transactions against one store (spec §4.2).
type Adapter interface {
	// VerifyReceipt validates an opaque receipt payload (App Store receipt,
	// signedTransaction JWT, or Google Play purchase token) and returns the
	// transaction(s) it represents.
	VerifyReceipt(ctx context.Context, creds Credentials, receipt string) ([]VerifiedTransaction, error)

	// RefreshTransaction re-verifies a known store transaction ID, used by
	// restore-purchases and on-demand re-sync.
	RefreshTransaction(ctx context.Context, creds Credentials, storeTransactionID string) (*VerifiedTransaction, error)

	// FetchProducts retrieves current catalog metadata for the given store
	// product IDs (spec §4.6 Product Sync).
	FetchProducts(ctx context.Context, creds Credentials, storeProductIDs []string) ([]ProductInfo, error)
}
