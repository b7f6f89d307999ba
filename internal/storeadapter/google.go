package storeadapter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"opencat/internal/apperr"
	"opencat/internal/storage"
)

// Google implements Adapter against the Google Play Developer API,
// generalizing the FoBoHuang-pay-gateway GooglePlayService reference into
// OpenCat's store-neutral Adapter shape.
type Google struct {
	timeout time.Duration
}

func NewGoogle(timeout time.Duration) *Google {
	return &Google{timeout: timeout}
}

func (g *Google) service(ctx context.Context, creds Credentials) (*androidpublisher.Service, error) {
	if len(creds.GoogleServiceAccountJSON) == 0 {
		return nil, apperr.CredentialMissing("Google Play service account credentials not configured")
	}
	authedCreds, err := google.CredentialsFromJSON(ctx, creds.GoogleServiceAccountJSON, androidpublisher.AndroidpublisherScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load Google service account credentials: %w", err)
	}
	svc, err := androidpublisher.NewService(ctx, option.WithCredentials(authedCreds))
	if err != nil {
		return nil, fmt.Errorf("failed to create androidpublisher service: %w", err)
	}
	return svc, nil
}

// VerifyReceipt treats receipt as "productID:purchaseToken" — the shape the
// Android client SDK hands back from a purchase flow, since Google
// verification always needs both to address the purchase.
func (g *Google) VerifyReceipt(ctx context.Context, creds Credentials, receipt string) ([]VerifiedTransaction, error) {
	productID, purchaseToken, err := splitReceiptToken(receipt)
	if err != nil {
		return nil, apperr.New(apperr.KindReceiptInvalid, "%v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, err := g.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	sub, err := svc.Purchases.Subscriptions.Get(creds.PackageName, productID, purchaseToken).Context(ctx).Do()
	if err == nil {
		return []VerifiedTransaction{subscriptionToTransaction(productID, purchaseToken, sub)}, nil
	}

	purchase, purchaseErr := svc.Purchases.Products.Get(creds.PackageName, productID, purchaseToken).Context(ctx).Do()
	if purchaseErr != nil {
		return nil, apperr.New(apperr.KindStoreRejected, "Google Play rejected purchase token: %v", err)
	}
	return []VerifiedTransaction{productToTransaction(productID, purchaseToken, purchase)}, nil
}

func (g *Google) RefreshTransaction(ctx context.Context, creds Credentials, storeTransactionID string) (*VerifiedTransaction, error) {
	// storeTransactionID for Google is the "productID:purchaseToken" pair
	// preserved verbatim from ingestion (Google has no separate transaction
	// identifier independent of the purchase token).
	txns, err := g.VerifyReceipt(ctx, creds, storeTransactionID)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, apperr.NotFound("transaction %s not found", storeTransactionID)
	}
	return &txns[0], nil
}

func (g *Google) FetchProducts(ctx context.Context, creds Credentials, storeProductIDs []string) ([]ProductInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, err := g.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	products := make([]ProductInfo, 0, len(storeProductIDs))
	for _, id := range storeProductIDs {
		p, err := svc.Monetization.Subscriptions.Get(creds.PackageName, id).Context(ctx).Do()
		if err != nil {
			// Fall through: this SKU may be a one-time product, not a
			// subscription; Google exposes those through a separate API
			// this integration doesn't call, so skip rather than fail
			// the whole sync.
			continue
		}
		info := ProductInfo{
			StoreProductID: id,
			ProductType:    storage.ProductTypeSubscription,
			DisplayName:    id,
		}
		if len(p.BasePlans) > 0 && p.BasePlans[0].RegionalConfigs != nil && len(p.BasePlans[0].RegionalConfigs) > 0 {
			rc := p.BasePlans[0].RegionalConfigs[0]
			info.Currency = rc.Price.CurrencyCode
			info.PriceMicros = &rc.Price.Units
		}
		products = append(products, info)
	}
	return products, nil
}

func splitReceiptToken(receipt string) (productID, purchaseToken string, err error) {
	for i := 0; i < len(receipt); i++ {
		if receipt[i] == ':' {
			return receipt[:i], receipt[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("receipt must be formatted productID:purchaseToken")
}

func subscriptionToTransaction(productID, purchaseToken string, sub *androidpublisher.SubscriptionPurchase) VerifiedTransaction {
	expires := time.UnixMilli(sub.ExpiryTimeMillis)
	now := time.Now()
	// Unmatched/unrecognized states normalize to expired rather than
	// active, so an unknown Google Play state never grants entitlement.
	status := storage.StatusExpired
	switch {
	case sub.CancelReason != 0 && !sub.AutoRenewing && expires.Before(now):
		status = storage.StatusExpired
	case expires.Before(now) && !sub.AutoRenewing:
		status = storage.StatusExpired
	case sub.PaymentState != nil && *sub.PaymentState == 0:
		status = storage.StatusBillingRetry
	case expires.After(now):
		status = storage.StatusActive
	}
	return VerifiedTransaction{
		StoreTransactionID: productID + ":" + purchaseToken,
		StoreProductID:     productID,
		PurchaseDate:       time.UnixMilli(sub.StartTimeMillis),
		ExpirationDate:     &expires,
		Status:             status,
		AppAccountToken:    sub.ObfuscatedExternalAccountId,
		RawPayload:         sub.OrderId,
	}
}

func productToTransaction(productID, purchaseToken string, p *androidpublisher.ProductPurchase) VerifiedTransaction {
	purchaseTime := time.UnixMilli(p.PurchaseTimeMillis)
	// Unmatched/unrecognized purchase states normalize to expired rather
	// than active (only the explicit "purchased" state grants entitlement).
	status := storage.StatusExpired
	switch p.PurchaseState {
	case 0:
		status = storage.StatusActive
	case 1:
		status = storage.StatusRefunded
	}
	return VerifiedTransaction{
		StoreTransactionID: productID + ":" + purchaseToken,
		StoreProductID:     productID,
		PurchaseDate:       purchaseTime,
		Status:             status,
		AppAccountToken:    p.ObfuscatedExternalAccountId,
		RawPayload:         p.OrderId,
	}
}
