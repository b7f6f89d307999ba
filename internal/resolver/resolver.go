// Package resolver reduces a subscriber's transaction history into the
// current entitlement view (spec.md §4.3). It is pure and side-effect-free:
// no storage, no network, no time.Now() beyond the caller-supplied `now`.
package resolver

import (
	"time"

	"opencat/internal/storage"
)

// EntitlementInfo is one resolved entitlement's current state.
type EntitlementInfo struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	IsActive       bool       `json:"is_active"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	ProductID      string     `json:"product_id"`
	Store          storage.Store `json:"store"`
	WillRenew      bool       `json:"will_renew"`
	PurchaseDate   time.Time  `json:"purchase_date"`
}

// CustomerInfo is the resolver's output, also the API's subscriber-facing
// response shape (spec.md §4.3, §6).
type CustomerInfo struct {
	AppUserID         string                     `json:"app_user_id"`
	ActiveEntitlements map[string]EntitlementInfo `json:"active_entitlements"`
	AllTransactions   []storage.Transaction      `json:"all_transactions"`
	FirstSeenAt       time.Time                  `json:"first_seen_at"`
}

// ProductEntitlements maps a product ID to the names of entitlements it
// grants, the "product→entitlement mapping" spec.md §4.3 takes as input.
type ProductEntitlements map[string][]EntitlementRef

// EntitlementRef names one entitlement linked to a product.
type EntitlementRef struct {
	ID   string
	Name string
}

func isEffective(t storage.Transaction, now time.Time) bool {
	switch t.Status {
	case storage.StatusActive, storage.StatusGracePeriod, storage.StatusBillingRetry:
	default:
		return false
	}
	return t.ExpirationDate == nil || t.ExpirationDate.After(now)
}

// Resolve implements spec.md §4.3's candidate-reduction algorithm: every
// transaction contributes one EntitlementInfo candidate per entitlement its
// product grants; candidates for the same entitlement name are reduced by
// preferring active over inactive, then latest expiration (null = +∞), then
// latest purchase date.
func Resolve(sub storage.Subscriber, transactions []storage.Transaction, products ProductEntitlements, now time.Time) CustomerInfo {
	best := make(map[string]EntitlementInfo)

	for _, t := range transactions {
		refs, ok := products[t.ProductID]
		if !ok {
			continue
		}
		effective := isEffective(t, now)
		willRenew := t.Status == storage.StatusActive && t.ExpirationDate != nil

		for _, ref := range refs {
			candidate := EntitlementInfo{
				ID:             ref.ID,
				Name:           ref.Name,
				IsActive:       effective,
				ExpirationDate: t.ExpirationDate,
				ProductID:      t.ProductID,
				Store:          t.Store,
				WillRenew:      willRenew,
				PurchaseDate:   t.PurchaseDate,
			}
			existing, has := best[ref.Name]
			if !has || beats(candidate, existing) {
				best[ref.Name] = candidate
			}
		}
	}

	active := make(map[string]EntitlementInfo)
	for name, info := range best {
		if info.IsActive {
			active[name] = info
		}
	}

	var firstSeen time.Time
	for i, t := range transactions {
		if i == 0 || t.PurchaseDate.Before(firstSeen) {
			firstSeen = t.PurchaseDate
		}
	}
	if firstSeen.IsZero() {
		firstSeen = sub.CreatedAt
	}

	return CustomerInfo{
		AppUserID:          sub.AppUserID,
		ActiveEntitlements: active,
		AllTransactions:    transactions,
		FirstSeenAt:        firstSeen,
	}
}

// beats reports whether candidate should replace existing under the
// tie-break rule: active beats inactive; among actives (or among
// inactives), later expiration wins (null treated as +∞); ties broken by
// later purchase date.
func beats(candidate, existing EntitlementInfo) bool {
	if candidate.IsActive != existing.IsActive {
		return candidate.IsActive
	}
	switch expirationCompare(candidate.ExpirationDate, existing.ExpirationDate) {
	case 1:
		return true
	case -1:
		return false
	}
	return candidate.PurchaseDate.After(existing.PurchaseDate)
}

// expirationCompare returns 1 if a is later than b, -1 if earlier, 0 if
// equal. A nil expiration is treated as +∞ (lifetime).
func expirationCompare(a, b *time.Time) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	switch {
	case a.After(*b):
		return 1
	case a.Before(*b):
		return -1
	default:
		return 0
	}
}
