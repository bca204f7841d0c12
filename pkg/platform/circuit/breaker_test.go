package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker(t *testing.T) {
	newBreaker := func() (*Breaker, *fakeClock) {
		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		return New("cache", WithFailureThreshold(2), WithCooldown(time.Second), WithClock(clock.Now)), clock
	}

	t.Run("opens after consecutive failures", func(t *testing.T) {
		b, _ := newBreaker()
		assert.False(t, b.RecordFailure().Opened)
		assert.True(t, b.RecordFailure().Opened)
		assert.Equal(t, StateOpen, b.State())
		assert.False(t, b.Allow())
	})

	t.Run("success resets failure streak", func(t *testing.T) {
		b, _ := newBreaker()
		b.RecordFailure()
		b.RecordSuccess()
		assert.False(t, b.RecordFailure().Opened)
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("admits a single trial call after cooldown", func(t *testing.T) {
		b, clock := newBreaker()
		b.RecordFailure()
		b.RecordFailure()

		clock.Advance(time.Second)
		assert.True(t, b.Allow())
		assert.Equal(t, StateHalfOpen, b.State())
		assert.False(t, b.Allow(), "second caller waits for the trial call")
	})

	t.Run("successful trial call closes", func(t *testing.T) {
		b, clock := newBreaker()
		b.RecordFailure()
		b.RecordFailure()
		clock.Advance(time.Second)
		b.Allow()

		assert.True(t, b.RecordSuccess().Closed)
		assert.True(t, b.Allow())
	})

	t.Run("failed trial call re-opens and restarts cooldown", func(t *testing.T) {
		b, clock := newBreaker()
		b.RecordFailure()
		b.RecordFailure()
		clock.Advance(time.Second)
		b.Allow()

		b.RecordFailure()
		assert.Equal(t, StateOpen, b.State())
		clock.Advance(500 * time.Millisecond)
		assert.False(t, b.Allow())
	})
}
