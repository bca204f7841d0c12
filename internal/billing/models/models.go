package models

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// YuKassa notification events.
const (
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentCanceled          = "payment.canceled"
	EventPaymentWaitingForCapture = "payment.waiting_for_capture"
	EventRefundSucceeded          = "refund.succeeded"
)

// PaymentStatus is the local payment state.
type PaymentStatus string

const (
	PaymentSucceeded         PaymentStatus = "succeeded"
	PaymentCanceled          PaymentStatus = "canceled"
	PaymentWaitingForCapture PaymentStatus = "waiting_for_capture"
	PaymentRefunded          PaymentStatus = "refunded"
)

// paymentTransitions lists the statuses each status may move to. Canceled
// and refunded are terminal; a captured payment can only be refunded.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	"":                       {PaymentWaitingForCapture, PaymentSucceeded, PaymentCanceled, PaymentRefunded},
	PaymentWaitingForCapture: {PaymentSucceeded, PaymentCanceled, PaymentRefunded},
	PaymentSucceeded:         {PaymentRefunded},
}

// CanTransition reports whether a payment in s may move to next. A repeated
// status is not a transition.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	return slices.Contains(paymentTransitions[s], next)
}

// StatusForEvent maps a supported event to the payment status it sets.
func StatusForEvent(event string) (PaymentStatus, bool) {
	switch event {
	case EventPaymentSucceeded:
		return PaymentSucceeded, true
	case EventPaymentCanceled:
		return PaymentCanceled, true
	case EventPaymentWaitingForCapture:
		return PaymentWaitingForCapture, true
	case EventRefundSucceeded:
		return PaymentRefunded, true
	default:
		return "", false
	}
}

// PaymentEvent records a processed webhook. ExternalID is unique.
type PaymentEvent struct {
	ExternalID  string
	Type        string
	Payload     json.RawMessage
	ProcessedAt time.Time
}

// Payment is the local copy of a provider payment.
type Payment struct {
	ID         uuid.UUID
	ExternalID string
	UserID     int64
	Status     PaymentStatus
	Amount     string
	Currency   string
	UpdatedAt  time.Time
}

// Subscription is a user's paid access.
type Subscription struct {
	UserID      int64
	IsActive    bool
	ExpiresAt   time.Time
	AccessToken string
	UpdatedAt   time.Time
}

// ActiveAt reports whether the subscription grants access at now. An
// active flag with a past expiry does not.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s != nil && s.IsActive && now.Before(s.ExpiresAt)
}

// ExtendedExpiry returns the expiry after adding d, counting from the
// current expiry when it is still in the future and from now otherwise.
func (s *Subscription) ExtendedExpiry(now time.Time, d time.Duration) time.Time {
	base := now
	if s != nil && s.ExpiresAt.After(now) {
		base = s.ExpiresAt
	}
	return base.Add(d)
}
