package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"opencat/internal/storage"
)

func TestDeriveEventType(t *testing.T) {
	cases := []struct {
		name     string
		in       Transition
		expected storage.EventType
	}{
		{
			name:     "new active transaction is initial purchase",
			in:       Transition{IsNew: true, NewStatus: storage.StatusActive},
			expected: storage.EventInitialPurchase,
		},
		{
			name:     "new non-renewing consumable purchase",
			in:       Transition{IsNew: true, NewStatus: storage.StatusExpired},
			expected: storage.EventTransactionCreated,
		},
		{
			name:     "renewal extends expiration",
			in:       Transition{PrevStatus: storage.StatusActive, NewStatus: storage.StatusActive, ExpirationExtended: true},
			expected: storage.EventRenewal,
		},
		{
			name:     "refund",
			in:       Transition{PrevStatus: storage.StatusActive, NewStatus: storage.StatusRefunded},
			expected: storage.EventRefund,
		},
		{
			name:     "active transitions to grace period",
			in:       Transition{PrevStatus: storage.StatusActive, NewStatus: storage.StatusGracePeriod},
			expected: storage.EventGracePeriodEntered,
		},
		{
			name:     "active transitions to billing retry",
			in:       Transition{PrevStatus: storage.StatusActive, NewStatus: storage.StatusBillingRetry},
			expected: storage.EventBillingIssue,
		},
		{
			name:     "grace period resolves back to active without renewal",
			in:       Transition{PrevStatus: storage.StatusGracePeriod, NewStatus: storage.StatusActive},
			expected: storage.EventUncancellation,
		},
		{
			name:     "grace period expires",
			in:       Transition{PrevStatus: storage.StatusGracePeriod, NewStatus: storage.StatusExpired},
			expected: storage.EventExpiration,
		},
		{
			name:     "product change on existing transaction",
			in:       Transition{PrevStatus: storage.StatusActive, NewStatus: storage.StatusActive, ProductChanged: true},
			expected: storage.EventProductChange,
		},
		{
			name:     "unrecognized transition falls back to transaction updated",
			in:       Transition{PrevStatus: storage.StatusActive, NewStatus: storage.StatusActive},
			expected: storage.EventTransactionUpdated,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, DeriveEventType(c.in))
		})
	}
}
