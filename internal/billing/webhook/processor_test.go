package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cargolink/internal/billing/accesstoken"
	"cargolink/internal/billing/models"
	"cargolink/internal/billing/notify"
	"cargolink/internal/billing/store"
	"cargolink/internal/platform/tracer"
	"cargolink/internal/sentinel"
	"cargolink/pkg/requestcontext"
	"cargolink/pkg/testutil"
)

const testUser int64 = 5550001

type capturePublisher struct {
	mu          sync.Mutex
	activations []notify.Activation
	err         error
}

func (c *capturePublisher) SubscriptionActivated(_ context.Context, a notify.Activation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activations = append(c.activations, a)
	return c.err
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.activations)
}

type failingTx struct{}

func (failingTx) RunInTx(context.Context, store.TxFunc) error {
	return errors.New("connection reset by peer")
}

// lockRecorder wraps the memory store and records advisory lock keys in
// the order a transaction takes them.
type lockRecorder struct {
	inner *store.Memory
	keys  []string
}

func (r *lockRecorder) RunInTx(ctx context.Context, fn store.TxFunc) error {
	return r.inner.RunInTx(ctx, func(ctx context.Context, st store.Store) error {
		return fn(ctx, lockRecordingStore{Store: st, r: r})
	})
}

type lockRecordingStore struct {
	store.Store
	r *lockRecorder
}

func (l lockRecordingStore) Lock(ctx context.Context, key string) error {
	l.r.keys = append(l.r.keys, key)
	return l.Store.Lock(ctx, key)
}

type ProcessorSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	store     *store.Memory
	tokens    *accesstoken.Issuer
	publisher *capturePublisher
	recorder  *tracer.Recorder
	processor *Processor
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = store.NewMemory()
	s.tokens = accesstoken.New("test-signing-key")
	s.publisher = &capturePublisher{}
	s.recorder = tracer.NewRecorder()
	s.processor = NewProcessor(testutil.WebhookSecret, s.store, s.tokens,
		WithPublisher(s.publisher),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTracer(s.recorder),
	)
}

func (s *ProcessorSuite) deliver(w testutil.PaymentWebhook) (Outcome, error) {
	body, sig := w.Signed()
	return s.processor.Process(s.ctx, body, sig)
}

func (s *ProcessorSuite) subscription() *models.Subscription {
	sub, err := s.store.FindSubscription(context.Background(), testUser)
	s.Require().NoError(err)
	return sub
}

// =============================================================================
// Authentication
// =============================================================================

func (s *ProcessorSuite) TestTamperedSignatureWritesNothing() {
	body, sig := testutil.Succeeded("pay-1", testUser).Signed()
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = ' '

	outcome, err := s.processor.Process(s.ctx, tampered, sig)

	s.Equal(OutcomeRejected, outcome)
	s.ErrorIs(err, ErrWebhookValidation)
	s.Equal(store.Counts{}, s.store.Counts())
	s.Zero(s.publisher.count())
}

func (s *ProcessorSuite) TestSignatureVariants() {
	body := testutil.Succeeded("pay-1", testUser).Body()
	for name, sig := range map[string]string{
		"empty":     "",
		"not hex":   "zz-not-hex",
		"wrong key": testutil.Sign("other-secret", body),
		"truncated": testutil.Sign(testutil.WebhookSecret, body)[:32],
	} {
		s.Run(name, func() {
			outcome, err := s.processor.Process(s.ctx, body, sig)
			s.Equal(OutcomeRejected, outcome)
			s.ErrorIs(err, ErrWebhookValidation)
		})
	}
	s.Equal(store.Counts{}, s.store.Counts())
}

func (s *ProcessorSuite) TestMissingSecretRejectsEverything() {
	p := NewProcessor("", s.store, s.tokens, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	body := testutil.Succeeded("pay-1", testUser).Body()

	outcome, err := p.Process(s.ctx, body, testutil.Sign("", body))

	s.Equal(OutcomeRejected, outcome)
	s.ErrorIs(err, ErrWebhookValidation)
}

// =============================================================================
// Payload validation
// =============================================================================

func (s *ProcessorSuite) TestInvalidPayloadsRejected() {
	tests := []struct {
		name    string
		webhook testutil.PaymentWebhook
	}{
		{name: "unknown event", webhook: testutil.PaymentWebhook{Event: "payout.succeeded", PaymentID: "po-1", UserID: testUser}},
		{name: "missing user", webhook: testutil.PaymentWebhook{Event: models.EventPaymentSucceeded, PaymentID: "pay-1"}},
		{name: "missing object id", webhook: testutil.PaymentWebhook{Event: models.EventPaymentSucceeded, UserID: testUser}},
		{name: "refund without payment", webhook: testutil.PaymentWebhook{Event: models.EventRefundSucceeded, PaymentID: "rf-1", UserID: testUser}},
		{name: "plan days out of range", webhook: testutil.PaymentWebhook{Event: models.EventPaymentSucceeded, PaymentID: "pay-1", UserID: testUser, PlanDays: 99999}},
		{name: "refund of unknown payment", webhook: testutil.PaymentWebhook{Event: models.EventRefundSucceeded, PaymentID: "rf-2", RefundOf: "pay-404"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			outcome, err := s.deliver(tt.webhook)
			s.Equal(OutcomeRejected, outcome)
			s.ErrorIs(err, ErrWebhookValidation)
		})
	}
	s.Equal(store.Counts{}, s.store.Counts())
}

func (s *ProcessorSuite) TestMalformedJSONRejected() {
	body := []byte(`{"event":`)
	outcome, err := s.processor.Process(s.ctx, body, testutil.Sign(testutil.WebhookSecret, body))
	s.Equal(OutcomeRejected, outcome)
	s.ErrorIs(err, ErrWebhookValidation)
}

// =============================================================================
// Activation
// =============================================================================

func (s *ProcessorSuite) TestSucceededActivatesSubscription() {
	outcome, err := s.deliver(testutil.Succeeded("pay-1", testUser))

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	s.Equal(store.Counts{Events: 1, Payments: 1, Subscriptions: 1}, s.store.Counts())

	sub := s.subscription()
	s.True(sub.ActiveAt(s.now))
	s.Equal(s.now.Add(DefaultPlanDuration), sub.ExpiresAt)
	claims, err := s.tokens.Validate(sub.AccessToken, s.now)
	s.Require().NoError(err)
	uid, err := claims.UserID()
	s.Require().NoError(err)
	s.Equal(testUser, uid)

	payment, err := s.store.FindPayment(context.Background(), "pay-1")
	s.Require().NoError(err)
	s.Equal(models.PaymentSucceeded, payment.Status)
	s.Equal("990.00", payment.Amount)
	s.Equal("RUB", payment.Currency)

	s.Require().Equal(1, s.publisher.count())
	s.Equal(testUser, s.publisher.activations[0].UserID)
	s.Equal("pay-1", s.publisher.activations[0].PaymentID)

	spans := s.recorder.Named(tracer.SpanWebhookProcess)
	s.Require().Len(spans, 1)
	s.Equal("applied", spans[0].Attributes[tracer.AttrOutcome])
}

func (s *ProcessorSuite) TestDuplicateDeliveryIsNoOp() {
	_, err := s.deliver(testutil.Succeeded("pay-1", testUser))
	s.Require().NoError(err)
	first := s.subscription()

	outcome, err := s.deliver(testutil.Succeeded("pay-1", testUser))

	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, outcome)
	s.Equal(store.Counts{Events: 1, Payments: 1, Subscriptions: 1}, s.store.Counts())
	s.Equal(first.ExpiresAt, s.subscription().ExpiresAt)
	s.Equal(first.AccessToken, s.subscription().AccessToken)
	s.Equal(1, s.publisher.count())
}

func (s *ProcessorSuite) TestRenewalWhileActiveExtendsFromExpiry() {
	_, err := s.deliver(testutil.Succeeded("pay-1", testUser))
	s.Require().NoError(err)
	first := s.subscription()

	_, err = s.deliver(testutil.Succeeded("pay-2", testUser))
	s.Require().NoError(err)
	second := s.subscription()

	s.Equal(s.now.Add(2*DefaultPlanDuration), second.ExpiresAt)
	s.NotEqual(first.AccessToken, second.AccessToken)
}

func (s *ProcessorSuite) TestLapsedSubscriptionRestartsFromNow() {
	_, err := s.deliver(testutil.Succeeded("pay-1", testUser))
	s.Require().NoError(err)

	later := s.now.Add(DefaultPlanDuration + 10*24*time.Hour)
	body, sig := testutil.Succeeded("pay-2", testUser).Signed()
	_, err = s.processor.Process(requestcontext.WithTime(context.Background(), later), body, sig)
	s.Require().NoError(err)

	s.Equal(later.Add(DefaultPlanDuration), s.subscription().ExpiresAt)
}

func (s *ProcessorSuite) TestPlanDaysFromMetadata() {
	w := testutil.Succeeded("pay-1", testUser)
	w.PlanDays = 7

	_, err := s.deliver(w)

	s.Require().NoError(err)
	s.Equal(s.now.Add(7*24*time.Hour), s.subscription().ExpiresAt)
}

func (s *ProcessorSuite) TestConfiguredPlanDuration() {
	p := NewProcessor(testutil.WebhookSecret, s.store, s.tokens,
		WithPlanDuration(90*24*time.Hour),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	body, sig := testutil.Succeeded("pay-1", testUser).Signed()

	_, err := p.Process(s.ctx, body, sig)

	s.Require().NoError(err)
	s.Equal(s.now.Add(90*24*time.Hour), s.subscription().ExpiresAt)
}

// =============================================================================
// Other events
// =============================================================================

func (s *ProcessorSuite) TestCanceledDoesNotActivate() {
	outcome, err := s.deliver(testutil.PaymentWebhook{Event: models.EventPaymentCanceled, PaymentID: "pay-1", Status: "canceled", UserID: testUser})

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	s.Equal(store.Counts{Events: 1, Payments: 1}, s.store.Counts())
	s.Zero(s.publisher.count())
}

func (s *ProcessorSuite) TestRefundKeepsSubscription() {
	_, err := s.deliver(testutil.Succeeded("pay-1", testUser))
	s.Require().NoError(err)
	before := s.subscription()

	outcome, err := s.deliver(testutil.PaymentWebhook{Event: models.EventRefundSucceeded, PaymentID: "rf-1", Status: "succeeded", RefundOf: "pay-1"})

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	payment, err := s.store.FindPayment(context.Background(), "pay-1")
	s.Require().NoError(err)
	s.Equal(models.PaymentRefunded, payment.Status)
	s.Equal("990.00", payment.Amount)
	s.Equal(before.ExpiresAt, s.subscription().ExpiresAt)
}

func (s *ProcessorSuite) TestLateWaitingForCaptureDoesNotReopenPayment() {
	_, err := s.deliver(testutil.Succeeded("pay-1", testUser))
	s.Require().NoError(err)

	outcome, err := s.deliver(testutil.PaymentWebhook{Event: models.EventPaymentWaitingForCapture, PaymentID: "pay-1", Status: "waiting_for_capture", UserID: testUser})

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	payment, err := s.store.FindPayment(context.Background(), "pay-1")
	s.Require().NoError(err)
	s.Equal(models.PaymentSucceeded, payment.Status)
}

// Justification: YooKassa does not guarantee delivery order; a succeeded
// notification arriving after the refund must not buy access back.
func (s *ProcessorSuite) TestSucceededAfterRefundKeepsPaymentRefunded() {
	_, err := s.deliver(testutil.PaymentWebhook{Event: models.EventPaymentWaitingForCapture, PaymentID: "pay-1", Status: "waiting_for_capture", UserID: testUser})
	s.Require().NoError(err)
	_, err = s.deliver(testutil.PaymentWebhook{Event: models.EventRefundSucceeded, PaymentID: "rf-1", Status: "succeeded", RefundOf: "pay-1"})
	s.Require().NoError(err)

	outcome, err := s.deliver(testutil.Succeeded("pay-1", testUser))

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	payment, err := s.store.FindPayment(context.Background(), "pay-1")
	s.Require().NoError(err)
	s.Equal(models.PaymentRefunded, payment.Status)
	_, err = s.store.FindSubscription(context.Background(), testUser)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Zero(s.publisher.count())
	s.Equal(3, s.store.Counts().Events)
}

func (s *ProcessorSuite) TestSucceededAfterCancelDoesNotActivate() {
	_, err := s.deliver(testutil.PaymentWebhook{Event: models.EventPaymentCanceled, PaymentID: "pay-1", Status: "canceled", UserID: testUser})
	s.Require().NoError(err)

	outcome, err := s.deliver(testutil.Succeeded("pay-1", testUser))

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	payment, err := s.store.FindPayment(context.Background(), "pay-1")
	s.Require().NoError(err)
	s.Equal(models.PaymentCanceled, payment.Status)
	_, err = s.store.FindSubscription(context.Background(), testUser)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Zero(s.publisher.count())
}

func (s *ProcessorSuite) TestRedeliveredSucceededAfterRefundIsDuplicate() {
	_, err := s.deliver(testutil.Succeeded("pay-1", testUser))
	s.Require().NoError(err)
	before := s.subscription()
	_, err = s.deliver(testutil.PaymentWebhook{Event: models.EventRefundSucceeded, PaymentID: "rf-1", Status: "succeeded", RefundOf: "pay-1"})
	s.Require().NoError(err)

	outcome, err := s.deliver(testutil.Succeeded("pay-1", testUser))

	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, outcome)
	s.Equal(before.ExpiresAt, s.subscription().ExpiresAt)
	s.Equal(1, s.publisher.count())
}

// =============================================================================
// Concurrency and failures
// =============================================================================

// Justification: at-least-once delivery can race the same notification
// against itself; exactly one copy may apply.
func (s *ProcessorSuite) TestConcurrentRedeliveriesApplyOnce() {
	body, sig := testutil.Succeeded("pay-1", testUser).Signed()

	outcomes, errs := testutil.RunConcurrentCollect(20, func(int) (Outcome, error) {
		return s.processor.Process(s.ctx, body, sig)
	})

	applied, duplicates := 0, 0
	for i, o := range outcomes {
		s.Require().NoError(errs[i])
		switch o {
		case OutcomeApplied:
			applied++
		case OutcomeDuplicate:
			duplicates++
		}
	}
	s.Equal(1, applied)
	s.Equal(19, duplicates)
	s.Equal(s.now.Add(DefaultPlanDuration), s.subscription().ExpiresAt)
	s.Equal(1, s.publisher.count())
}

// Justification: row locks cannot cover a subscription that does not exist
// yet, so activation serializes on the user before reading it, always after
// the payment lock.
func (s *ProcessorSuite) TestActivationLocksPaymentThenSubscription() {
	rec := &lockRecorder{inner: s.store}
	p := NewProcessor(testutil.WebhookSecret, rec, s.tokens, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	body, sig := testutil.Succeeded("pay-1", testUser).Signed()

	outcome, err := p.Process(s.ctx, body, sig)

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	s.Equal([]string{store.PaymentLockKey("pay-1"), store.SubscriptionLockKey(testUser)}, rec.keys)
}

func (s *ProcessorSuite) TestConcurrentDistinctPaymentsBothExtend() {
	outcomes, errs := testutil.RunConcurrentCollect(2, func(i int) (Outcome, error) {
		body, sig := testutil.Succeeded(fmt.Sprintf("pay-%d", i), testUser).Signed()
		return s.processor.Process(s.ctx, body, sig)
	})

	for i := range outcomes {
		s.Require().NoError(errs[i])
		s.Equal(OutcomeApplied, outcomes[i])
	}
	s.Equal(s.now.Add(2*DefaultPlanDuration), s.subscription().ExpiresAt)
}

func (s *ProcessorSuite) TestPublishFailureDoesNotFailDelivery() {
	s.publisher.err = errors.New("broker unreachable")

	outcome, err := s.deliver(testutil.Succeeded("pay-1", testUser))

	s.Require().NoError(err)
	s.Equal(OutcomeApplied, outcome)
	s.True(s.subscription().ActiveAt(s.now))
}

func (s *ProcessorSuite) TestStoreFailureIsRetryable() {
	p := NewProcessor(testutil.WebhookSecret, failingTx{}, s.tokens, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	body, sig := testutil.Succeeded("pay-1", testUser).Signed()

	outcome, err := p.Process(s.ctx, body, sig)

	s.Require().Error(err)
	s.NotErrorIs(err, ErrWebhookValidation)
	s.Empty(outcome)
}
