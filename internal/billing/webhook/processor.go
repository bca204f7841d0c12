// Package webhook applies YuKassa payment notifications exactly once.
//
// A notification is authenticated with an HMAC-SHA256 signature, keyed by
// "<event>:<object.id>" and applied in one store transaction whose first
// write is the processed-event row. Redeliveries hit that row and are
// reported as duplicates without touching payments or subscriptions.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cargolink/internal/billing/models"
	"cargolink/internal/billing/notify"
	"cargolink/internal/billing/store"
	"cargolink/internal/platform/tracer"
	"cargolink/internal/sentinel"
	"cargolink/pkg/platform/hmacsig"
	platformsync "cargolink/pkg/platform/sync"
	"cargolink/pkg/requestcontext"
)

// ErrWebhookValidation covers bad signatures and malformed or unsupported
// payloads. Nothing is persisted for such deliveries.
var ErrWebhookValidation = errors.New("webhook validation failed")

// DefaultPlanDuration applies when metadata carries no plan_days.
const DefaultPlanDuration = 30 * 24 * time.Hour

// Outcome of one delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
)

// TxRunner opens a billing transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn store.TxFunc) error
}

// TokenIssuer mints subscription access tokens.
type TokenIssuer interface {
	Issue(userID int64, issuedAt, expiresAt time.Time) (string, error)
}

// ActivationPublisher announces committed activations.
type ActivationPublisher interface {
	SubscriptionActivated(ctx context.Context, a notify.Activation) error
}

// Processor verifies and applies payment notifications.
type Processor struct {
	secret       []byte
	tx           TxRunner
	tokens       TokenIssuer
	publisher    ActivationPublisher
	locks        *platformsync.ShardedMutex
	planDuration time.Duration
	logger       *slog.Logger
	tracer       tracer.Tracer
	metrics      *Metrics
}

// Option configures a Processor.
type Option func(*Processor)

// WithPlanDuration sets the fallback paid period.
func WithPlanDuration(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.planDuration = d
		}
	}
}

// WithPublisher sets the activation publisher.
func WithPublisher(pub ActivationPublisher) Option {
	return func(p *Processor) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

// WithLocks shares a keyed mutex with other processors.
func WithLocks(m *platformsync.ShardedMutex) Option {
	return func(p *Processor) {
		if m != nil {
			p.locks = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(p *Processor) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewProcessor creates a Processor. An empty secret rejects every delivery.
func NewProcessor(secret string, tx TxRunner, tokens TokenIssuer, opts ...Option) *Processor {
	p := &Processor{
		secret:       []byte(secret),
		tx:           tx,
		tokens:       tokens,
		locks:        platformsync.NewShardedMutex(),
		planDuration: DefaultPlanDuration,
		logger:       slog.Default(),
		tracer:       tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	return p
}

// Process verifies raw against signature and applies it. Validation
// failures return OutcomeRejected with ErrWebhookValidation; a redelivery
// returns OutcomeDuplicate with a nil error. Any other error means the
// delivery was not applied and should be retried by the provider.
func (p *Processor) Process(ctx context.Context, raw []byte, signature string) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, tracer.SpanWebhookProcess)
	start := time.Now()

	outcome, event, err := p.process(ctx, raw, signature)

	label := string(outcome)
	if outcome == "" {
		label = "error"
	}
	p.metrics.Deliveries.WithLabelValues(label).Inc()
	p.metrics.Duration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		tracer.String(tracer.AttrEventType, event),
		tracer.String(tracer.AttrOutcome, label),
	)
	span.End(err)
	return outcome, err
}

func (p *Processor) process(ctx context.Context, raw []byte, signature string) (Outcome, string, error) {
	if !p.verify(raw, signature) {
		p.logger.WarnContext(ctx, "payment webhook rejected: signature mismatch",
			"request_id", requestcontext.RequestID(ctx),
			"body_bytes", len(raw),
		)
		return OutcomeRejected, "", fmt.Errorf("%w: signature mismatch", ErrWebhookValidation)
	}

	n, err := parseNotification(raw)
	if err != nil {
		p.logger.WarnContext(ctx, "payment webhook rejected: invalid payload",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return OutcomeRejected, "", fmt.Errorf("%w: %w", ErrWebhookValidation, err)
	}

	now := requestcontext.Now(ctx)
	var activated *models.Subscription

	err = p.locks.WithLock(n.ExternalID, func() error {
		activated = nil
		return p.tx.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
			var err error
			activated, err = p.apply(ctx, st, n, raw, now)
			return err
		})
	})

	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		p.logger.InfoContext(ctx, "payment webhook already processed",
			"external_id", n.ExternalID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return OutcomeDuplicate, n.Event, nil
	case errors.Is(err, ErrWebhookValidation):
		p.logger.WarnContext(ctx, "payment webhook rejected",
			"external_id", n.ExternalID,
			"error", err,
		)
		return OutcomeRejected, n.Event, err
	case err != nil:
		p.logger.ErrorContext(ctx, "payment webhook failed",
			"external_id", n.ExternalID,
			"error", err,
		)
		return "", n.Event, fmt.Errorf("apply %s: %w", n.ExternalID, err)
	}

	p.logger.InfoContext(ctx, "payment webhook applied",
		"external_id", n.ExternalID,
		"status", n.Status,
		"user_id", n.UserID,
	)
	if activated != nil {
		p.publish(ctx, activated, n.PaymentID, now)
	}
	return OutcomeApplied, n.Event, nil
}

// apply runs inside the transaction. The event row goes first so a
// concurrent or repeated delivery fails before any other write.
func (p *Processor) apply(ctx context.Context, st store.Store, n *parsed, raw []byte, now time.Time) (*models.Subscription, error) {
	if err := st.InsertEvent(ctx, &models.PaymentEvent{
		ExternalID:  n.ExternalID,
		Type:        n.Event,
		Payload:     append([]byte(nil), raw...),
		ProcessedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := st.Lock(ctx, store.PaymentLockKey(n.PaymentID)); err != nil {
		return nil, err
	}
	payment, err := st.FindPayment(ctx, n.PaymentID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		if n.UserID == 0 {
			return nil, fmt.Errorf("%w: unknown payment %s without metadata.user_id", ErrWebhookValidation, n.PaymentID)
		}
		payment = &models.Payment{ID: uuid.New(), ExternalID: n.PaymentID, UserID: n.UserID}
	case err != nil:
		return nil, err
	}

	// out-of-order deliveries are recorded but never move a payment backwards
	if !payment.Status.CanTransition(n.Status) {
		p.logger.WarnContext(ctx, "payment webhook ignored: status transition not allowed",
			"external_id", n.ExternalID,
			"from", payment.Status,
			"to", n.Status,
		)
		return nil, nil
	}
	payment.Status = n.Status
	if n.Event != models.EventRefundSucceeded && n.Amount.Value != "" {
		payment.Amount = n.Amount.Value
		payment.Currency = strings.ToUpper(n.Amount.Currency)
	}
	payment.UpdatedAt = now
	if err := st.SavePayment(ctx, payment); err != nil {
		return nil, err
	}

	if payment.Status != models.PaymentSucceeded {
		return nil, nil
	}
	return p.activate(ctx, st, payment.UserID, n.planDuration(p.planDuration), now)
}

func (p *Processor) activate(ctx context.Context, st store.Store, userID int64, d time.Duration, now time.Time) (*models.Subscription, error) {
	if err := st.Lock(ctx, store.SubscriptionLockKey(userID)); err != nil {
		return nil, err
	}
	current, err := st.FindSubscription(ctx, userID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	expiresAt := current.ExtendedExpiry(now, d)
	token, err := p.tokens.Issue(userID, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	sub := &models.Subscription{
		UserID:      userID,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		AccessToken: token,
		UpdatedAt:   now,
	}
	if err := st.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (p *Processor) publish(ctx context.Context, sub *models.Subscription, paymentID string, now time.Time) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.SubscriptionActivated(ctx, notify.Activation{
		UserID:      sub.UserID,
		PaymentID:   paymentID,
		ExpiresAt:   sub.ExpiresAt,
		ActivatedAt: now,
	})
	if err != nil {
		p.metrics.PublishFailures.Inc()
		p.logger.WarnContext(ctx, "failed to publish subscription activation",
			"user_id", sub.UserID,
			"error", err,
		)
	}
}

// verify checks the hex HMAC-SHA256 of raw in constant time.
func (p *Processor) verify(raw []byte, signature string) bool {
	return hmacsig.Verify(p.secret, raw, signature)
}
