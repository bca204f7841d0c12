// Package store persists processed payment events, payments and
// subscriptions. Every webhook is applied inside one RunInTx call.
package store

import (
	"context"
	"strconv"

	"cargolink/internal/billing/models"
)

// Store is the set of operations available inside a transaction.
// Lookups return sentinel.ErrNotFound; InsertEvent returns
// sentinel.ErrAlreadyUsed for a known external ID. Lock blocks until no
// other transaction holds key and keeps it until this one ends; callers
// take payment locks before subscription locks.
type Store interface {
	Lock(ctx context.Context, key string) error
	InsertEvent(ctx context.Context, e *models.PaymentEvent) error
	FindPayment(ctx context.Context, externalID string) (*models.Payment, error)
	SavePayment(ctx context.Context, p *models.Payment) error
	FindSubscription(ctx context.Context, userID int64) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, s *models.Subscription) error
}

// TxFunc runs against a transactional Store. Returning an error discards
// every write it made.
type TxFunc func(ctx context.Context, s Store) error

// PaymentLockKey serializes transactions touching one payment.
func PaymentLockKey(externalID string) string {
	return "payment:" + externalID
}

// SubscriptionLockKey serializes transactions touching one subscription,
// including its first insert.
func SubscriptionLockKey(userID int64) string {
	return "subscription:" + strconv.FormatInt(userID, 10)
}
