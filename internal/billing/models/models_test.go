package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionActiveAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var missing *Subscription
	assert.False(t, missing.ActiveAt(now))
	assert.True(t, (&Subscription{IsActive: true, ExpiresAt: now.Add(time.Hour)}).ActiveAt(now))
	assert.False(t, (&Subscription{IsActive: true, ExpiresAt: now}).ActiveAt(now))
	assert.False(t, (&Subscription{IsActive: false, ExpiresAt: now.Add(time.Hour)}).ActiveAt(now))
}

func TestSubscriptionExtendedExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	month := 30 * 24 * time.Hour

	var missing *Subscription
	assert.Equal(t, now.Add(month), missing.ExtendedExpiry(now, month))

	active := &Subscription{IsActive: true, ExpiresAt: now.Add(10 * 24 * time.Hour)}
	assert.Equal(t, now.Add(10*24*time.Hour+month), active.ExtendedExpiry(now, month))

	lapsed := &Subscription{IsActive: true, ExpiresAt: now.Add(-time.Hour)}
	assert.Equal(t, now.Add(month), lapsed.ExtendedExpiry(now, month))
}

func TestStatusForEvent(t *testing.T) {
	status, ok := StatusForEvent(EventRefundSucceeded)
	assert.True(t, ok)
	assert.Equal(t, PaymentRefunded, status)

	_, ok = StatusForEvent("payout.succeeded")
	assert.False(t, ok)
}

func TestPaymentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		allowed  bool
	}{
		{"", PaymentWaitingForCapture, true},
		{"", PaymentRefunded, true},
		{PaymentWaitingForCapture, PaymentSucceeded, true},
		{PaymentWaitingForCapture, PaymentCanceled, true},
		{PaymentSucceeded, PaymentRefunded, true},
		{PaymentSucceeded, PaymentSucceeded, false},
		{PaymentSucceeded, PaymentWaitingForCapture, false},
		{PaymentSucceeded, PaymentCanceled, false},
		{PaymentRefunded, PaymentSucceeded, false},
		{PaymentRefunded, PaymentWaitingForCapture, false},
		{PaymentCanceled, PaymentSucceeded, false},
		{PaymentCanceled, PaymentRefunded, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}
