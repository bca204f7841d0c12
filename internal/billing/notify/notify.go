// Package notify publishes billing events for downstream consumers (the bot
// that congratulates the user, analytics).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cargolink/internal/platform/kafka/producer"
)

// TopicSubscriptionActivated receives one record per activation or renewal.
const TopicSubscriptionActivated = "billing.subscription.activated"

// Activation is the record published after a successful payment commits.
type Activation struct {
	UserID      int64     `json:"user_id"`
	PaymentID   string    `json:"payment_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Publisher writes activations to Kafka.
type Publisher struct {
	producer producer.Publisher
	topic    string
}

// New creates a Publisher on TopicSubscriptionActivated.
func New(p producer.Publisher) *Publisher {
	return &Publisher{producer: p, topic: TopicSubscriptionActivated}
}

// SubscriptionActivated publishes a. Records are keyed by user so one
// user's renewals stay ordered.
func (p *Publisher) SubscriptionActivated(ctx context.Context, a Activation) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode activation: %w", err)
	}
	return p.producer.Produce(ctx, &producer.Message{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(a.UserID, 10)),
		Value: value,
		Headers: map[string]string{
			"event_type": "subscription.activated",
		},
	})
}
