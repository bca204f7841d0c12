package store

import (
	"context"
	"sync"

	"cargolink/internal/billing/models"
	"cargolink/internal/sentinel"
)

// Memory keeps billing state in process. Transactions are serialized by a
// single lock and their writes are staged until fn succeeds.
type Memory struct {
	mu            sync.Mutex
	events        map[string]models.PaymentEvent
	payments      map[string]models.Payment
	subscriptions map[int64]models.Subscription
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		events:        make(map[string]models.PaymentEvent),
		payments:      make(map[string]models.Payment),
		subscriptions: make(map[int64]models.Subscription),
	}
}

// RunInTx runs fn with exclusive access and commits its writes only when it
// returns nil.
func (m *Memory) RunInTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &memoryTx{
		base:          m,
		events:        make(map[string]models.PaymentEvent),
		payments:      make(map[string]models.Payment),
		subscriptions: make(map[int64]models.Subscription),
	}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	for k, v := range staged.events {
		m.events[k] = v
	}
	for k, v := range staged.payments {
		m.payments[k] = v
	}
	for k, v := range staged.subscriptions {
		m.subscriptions[k] = v
	}
	return nil
}

// FindSubscription reads committed state.
func (m *Memory) FindSubscription(_ context.Context, userID int64) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &sub, nil
}

// FindPayment reads committed state.
func (m *Memory) FindPayment(_ context.Context, externalID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[externalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

// Counts reports committed row counts.
type Counts struct {
	Events        int
	Payments      int
	Subscriptions int
}

// Counts returns the number of committed rows per table.
func (m *Memory) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{Events: len(m.events), Payments: len(m.payments), Subscriptions: len(m.subscriptions)}
}

// memoryTx is the staged view handed to TxFunc. The base lock is held for
// its whole lifetime.
type memoryTx struct {
	base          *Memory
	events        map[string]models.PaymentEvent
	payments      map[string]models.Payment
	subscriptions map[int64]models.Subscription
}

// Lock is a no-op: RunInTx already runs one transaction at a time.
func (t *memoryTx) Lock(context.Context, string) error { return nil }

func (t *memoryTx) InsertEvent(_ context.Context, e *models.PaymentEvent) error {
	if _, ok := t.events[e.ExternalID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if _, ok := t.base.events[e.ExternalID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	t.events[e.ExternalID] = *e
	return nil
}

func (t *memoryTx) FindPayment(_ context.Context, externalID string) (*models.Payment, error) {
	if p, ok := t.payments[externalID]; ok {
		return &p, nil
	}
	if p, ok := t.base.payments[externalID]; ok {
		return &p, nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memoryTx) SavePayment(_ context.Context, p *models.Payment) error {
	t.payments[p.ExternalID] = *p
	return nil
}

func (t *memoryTx) FindSubscription(_ context.Context, userID int64) (*models.Subscription, error) {
	if s, ok := t.subscriptions[userID]; ok {
		return &s, nil
	}
	if s, ok := t.base.subscriptions[userID]; ok {
		return &s, nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memoryTx) SaveSubscription(_ context.Context, s *models.Subscription) error {
	t.subscriptions[s.UserID] = *s
	return nil
}
