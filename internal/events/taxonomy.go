package events

import "opencat/internal/storage"

// Transition describes one transaction's status change as observed by the
// Receipt Pipeline (spec §4.4).
type Transition struct {
	IsNew              bool
	PrevStatus         storage.TransactionStatus
	NewStatus          storage.TransactionStatus
	ExpirationExtended bool
	ProductChanged     bool
}

// DeriveEventType maps a transition to the event taxonomy (spec §4.4). The
// table favors the most specific event it can justify; TRANSACTION_UPDATED
// is the safe superset whenever no more specific rule applies to an
// existing-transaction change.
func DeriveEventType(t Transition) storage.EventType {
	if t.IsNew {
		switch t.NewStatus {
		case storage.StatusActive, storage.StatusGracePeriod, storage.StatusBillingRetry:
			return storage.EventInitialPurchase
		default:
			return storage.EventTransactionCreated
		}
	}

	if t.ProductChanged {
		return storage.EventProductChange
	}

	switch t.NewStatus {
	case storage.StatusRefunded:
		return storage.EventRefund
	case storage.StatusExpired:
		if t.PrevStatus == storage.StatusGracePeriod || t.PrevStatus == storage.StatusBillingRetry {
			return storage.EventExpiration
		}
		if t.PrevStatus == storage.StatusActive {
			return storage.EventExpiration
		}
		return storage.EventTransactionUpdated
	case storage.StatusGracePeriod:
		if t.PrevStatus != storage.StatusGracePeriod {
			return storage.EventGracePeriodEntered
		}
	case storage.StatusBillingRetry:
		if t.PrevStatus != storage.StatusBillingRetry {
			return storage.EventBillingIssue
		}
	case storage.StatusActive:
		if t.ExpirationExtended {
			return storage.EventRenewal
		}
		if t.PrevStatus == storage.StatusGracePeriod || t.PrevStatus == storage.StatusBillingRetry {
			return storage.EventUncancellation
		}
	}

	return storage.EventTransactionUpdated
}
