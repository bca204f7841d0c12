package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cargolink/internal/cache/store"
	"cargolink/internal/sentinel"
	"cargolink/pkg/testutil"
)

var errUpstream = errors.New("upstream down")

// brokenStore fails every call.
type brokenStore struct {
	calls atomic.Int32
}

func (b *brokenStore) Get(context.Context, string, string) (store.Entry, error) {
	b.calls.Add(1)
	return store.Entry{}, errors.New("dial tcp: connection refused")
}

func (b *brokenStore) Set(context.Context, store.Entry, time.Duration) error {
	b.calls.Add(1)
	return errors.New("dial tcp: connection refused")
}

func (b *brokenStore) Keys(context.Context, string) ([]string, error) {
	b.calls.Add(1)
	return nil, errors.New("dial tcp: connection refused")
}

func (b *brokenStore) Delete(context.Context, string, ...string) error {
	b.calls.Add(1)
	return errors.New("dial tcp: connection refused")
}

type countingLoader struct {
	calls atomic.Int32
	value []byte
	err   error
}

func (l *countingLoader) load(context.Context) ([]byte, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.value, nil
}

type CacheSuite struct {
	suite.Suite
	clock *testutil.Clock
	store *store.Memory
	cache *Cache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.clock = testutil.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	s.store = store.NewMemory(store.WithMemoryClock(s.clock.Now))
	s.cache = New(s.store,
		WithClock(s.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// =============================================================================
// Read-through
// =============================================================================

func (s *CacheSuite) TestHitWithinTTLSkipsLoader() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`"v1"`)}

	first, err := s.cache.Get(ctx, TierDetail, DetailKey(1), loader.load)
	s.Require().NoError(err)
	s.clock.Advance(DefaultDetailTTL - time.Second)
	second, err := s.cache.Get(ctx, TierDetail, DetailKey(1), loader.load)
	s.Require().NoError(err)

	s.Equal(int32(1), loader.calls.Load())
	s.Equal(first.Value, second.Value)
	s.False(second.Stale)
}

func (s *CacheSuite) TestExpiredEntryReloads() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`"v1"`)}

	_, err := s.cache.Get(ctx, TierList, ListKey(7, "abc"), loader.load)
	s.Require().NoError(err)
	s.clock.Advance(DefaultListTTL)
	loader.value = []byte(`"v2"`)
	res, err := s.cache.Get(ctx, TierList, ListKey(7, "abc"), loader.load)

	s.Require().NoError(err)
	s.Equal(int32(2), loader.calls.Load())
	s.Equal([]byte(`"v2"`), res.Value)
}

func (s *CacheSuite) TestTierTTLOverride() {
	c := New(s.store, WithClock(s.clock.Now), WithTTL(TierReference, time.Minute))
	s.Equal(time.Minute, c.TTL(TierReference))
	s.Equal(DefaultListTTL, c.TTL(TierList))
}

func (s *CacheSuite) TestUnknownTier() {
	loader := &countingLoader{value: []byte("x")}
	_, err := s.cache.Get(context.Background(), Tier("archive"), "k", loader.load)
	s.Error(err)
	s.Zero(loader.calls.Load())
}

// Justification: a burst of misses on one key must reach upstream once.
func (s *CacheSuite) TestConcurrentMissesShareOneLoad() {
	release := make(chan struct{})
	var calls atomic.Int32
	loader := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte(`"shared"`), nil
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	results, errs := testutil.RunConcurrentCollect(20, func(int) (Result, error) {
		return s.cache.Get(context.Background(), TierReference, PointsKey("Казань"), loader)
	})

	for i := range results {
		s.Require().NoError(errs[i])
		s.Equal([]byte(`"shared"`), results[i].Value)
	}
	s.Equal(int32(1), calls.Load())
}

// =============================================================================
// Stale fallback
// =============================================================================

func (s *CacheSuite) TestLoaderFailureServesStaleCopy() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`"v1"`)}
	_, err := s.cache.Get(ctx, TierDetail, DetailKey(9), loader.load)
	s.Require().NoError(err)

	s.clock.Advance(DefaultDetailTTL + time.Minute)
	loader.err = errUpstream
	res, err := s.cache.Get(ctx, TierDetail, DetailKey(9), loader.load)

	s.Require().NoError(err)
	s.True(res.Stale)
	s.Equal([]byte(`"v1"`), res.Value)
	s.Equal(int32(2), loader.calls.Load())
}

func (s *CacheSuite) TestLoaderFailureBeyondGracePropagates() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`"v1"`)}
	_, err := s.cache.Get(ctx, TierDetail, DetailKey(9), loader.load)
	s.Require().NoError(err)

	s.clock.Advance(DefaultDetailTTL + DefaultStaleGrace + time.Second)
	loader.err = errUpstream
	_, err = s.cache.Get(ctx, TierDetail, DetailKey(9), loader.load)

	s.ErrorIs(err, errUpstream)
}

func (s *CacheSuite) TestLoaderFailureWithoutCopyPropagates() {
	loader := &countingLoader{err: errUpstream}
	_, err := s.cache.Get(context.Background(), TierList, ListKey(1, "q"), loader.load)
	s.ErrorIs(err, errUpstream)
}

func (s *CacheSuite) TestFetchReportsStale() {
	ctx := context.Background()
	type page struct {
		Items []string `json:"items"`
	}
	load := func(context.Context) (page, error) { return page{Items: []string{"a", "b"}}, nil }

	got, stale, err := Fetch(ctx, s.cache, TierList, ListKey(3, "h"), load)
	s.Require().NoError(err)
	s.False(stale)
	s.Equal([]string{"a", "b"}, got.Items)

	s.clock.Advance(DefaultListTTL + time.Second)
	got, stale, err = Fetch(ctx, s.cache, TierList, ListKey(3, "h"), func(context.Context) (page, error) {
		return page{}, errUpstream
	})
	s.Require().NoError(err)
	s.True(stale)
	s.Equal([]string{"a", "b"}, got.Items)
}

// =============================================================================
// Invalidation
// =============================================================================

func (s *CacheSuite) TestInvalidateExactKeyForcesReload() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`"v1"`)}
	_, err := s.cache.Get(ctx, TierDetail, DetailKey(5), loader.load)
	s.Require().NoError(err)

	n, err := s.cache.Invalidate(ctx, TierDetail, DetailKey(5))
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.cache.Get(ctx, TierDetail, DetailKey(5), loader.load)
	s.Require().NoError(err)
	s.Equal(int32(2), loader.calls.Load())
}

func (s *CacheSuite) TestInvalidatedEntryIsNotServedStale() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`"v1"`)}
	_, err := s.cache.Get(ctx, TierDetail, DetailKey(5), loader.load)
	s.Require().NoError(err)
	_, err = s.cache.Invalidate(ctx, TierDetail, DetailKey(5))
	s.Require().NoError(err)

	loader.err = errUpstream
	_, err = s.cache.Get(ctx, TierDetail, DetailKey(5), loader.load)
	s.ErrorIs(err, errUpstream)
}

func (s *CacheSuite) TestInvalidatePrefixIsScopedToUser() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`[]`)}
	for _, key := range []string{ListKey(1, "a"), ListKey(1, "b"), ListKey(2, "a")} {
		_, err := s.cache.Get(ctx, TierList, key, loader.load)
		s.Require().NoError(err)
	}

	n, err := s.cache.Invalidate(ctx, TierList, UserListPattern(1))
	s.Require().NoError(err)
	s.Equal(2, n)

	keys, err := s.store.Keys(ctx, string(TierList))
	s.Require().NoError(err)
	s.Equal([]string{ListKey(2, "a")}, keys)
}

func (s *CacheSuite) TestInvalidateWholeTier() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`[]`)}
	_, err := s.cache.Get(ctx, TierList, ListKey(1, "a"), loader.load)
	s.Require().NoError(err)
	_, err = s.cache.Get(ctx, TierDetail, DetailKey(1), loader.load)
	s.Require().NoError(err)

	n, err := s.cache.Invalidate(ctx, TierList, AllPattern)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(1, s.store.Len())
}

// blockingLoader returns value once release is closed and signals started on
// its first call.
func blockingLoader(value string, started chan<- struct{}, release <-chan struct{}) Loader {
	var once atomic.Bool
	return func(context.Context) ([]byte, error) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-release
		return []byte(value), nil
	}
}

// Justification: a load that began before an invalidation must not write its
// now outdated value back as fresh.
func (s *CacheSuite) TestInvalidateDuringLoadDiscardsResult() {
	ctx := context.Background()
	started, release := make(chan struct{}), make(chan struct{})
	done := make(chan Result, 1)
	go func() {
		res, err := s.cache.Get(ctx, TierDetail, DetailKey(5), blockingLoader(`"open"`, started, release))
		s.NoError(err)
		done <- res
	}()
	<-started

	_, err := s.cache.Invalidate(ctx, TierDetail, DetailKey(5))
	s.Require().NoError(err)
	close(release)

	res := <-done
	s.Equal([]byte(`"open"`), res.Value, "callers already waiting still get the value")
	_, err = s.store.Get(ctx, string(TierDetail), DetailKey(5))
	s.ErrorIs(err, sentinel.ErrNotFound)

	fresh := &countingLoader{value: []byte(`"closed"`)}
	res, err = s.cache.Get(ctx, TierDetail, DetailKey(5), fresh.load)
	s.Require().NoError(err)
	s.Equal([]byte(`"closed"`), res.Value)
	s.Equal(int32(1), fresh.calls.Load())
}

// Justification: a read after an invalidation must reach upstream rather than
// wait on the load the invalidation superseded.
func (s *CacheSuite) TestGetAfterInvalidateStartsNewLoad() {
	ctx := context.Background()
	started, release := make(chan struct{}), make(chan struct{})
	oldDone := make(chan struct{})
	go func() {
		defer close(oldDone)
		_, err := s.cache.Get(ctx, TierList, ListKey(1, "a"), blockingLoader(`["old"]`, started, release))
		s.NoError(err)
	}()
	<-started

	_, err := s.cache.Invalidate(ctx, TierList, UserListPattern(1))
	s.Require().NoError(err)

	fresh := &countingLoader{value: []byte(`["new"]`)}
	res, err := s.cache.Get(ctx, TierList, ListKey(1, "a"), fresh.load)
	s.Require().NoError(err)
	s.Equal([]byte(`["new"]`), res.Value)
	s.Equal(int32(1), fresh.calls.Load())

	close(release)
	<-oldDone

	entry, err := s.store.Get(ctx, string(TierList), ListKey(1, "a"))
	s.Require().NoError(err)
	s.Equal([]byte(`["new"]`), entry.Value, "the superseded load does not overwrite")
}

func (s *CacheSuite) TestInvalidateLeavesOtherTierUntouched() {
	ctx := context.Background()
	loader := &countingLoader{value: []byte(`"v"`)}
	_, err := s.cache.Get(ctx, TierList, "shared", loader.load)
	s.Require().NoError(err)
	_, err = s.cache.Get(ctx, TierDetail, "shared", loader.load)
	s.Require().NoError(err)
	s.Equal(int32(2), loader.calls.Load(), "same key in two tiers is two entries")

	_, err = s.cache.Invalidate(ctx, TierDetail, "shared")
	s.Require().NoError(err)

	_, err = s.cache.Get(ctx, TierList, "shared", loader.load)
	s.Require().NoError(err)
	s.Equal(int32(2), loader.calls.Load())
}

// =============================================================================
// Store outage
// =============================================================================

func (s *CacheSuite) TestUnavailableStoreBypassesToLoader() {
	broken := &brokenStore{}
	c := New(broken, WithClock(s.clock.Now), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	loader := &countingLoader{value: []byte(`"direct"`)}

	res, err := c.Get(context.Background(), TierList, ListKey(1, "a"), loader.load)

	s.Require().NoError(err)
	s.Equal([]byte(`"direct"`), res.Value)
	s.False(res.Stale)
	s.Equal(int32(1), loader.calls.Load())
}

func (s *CacheSuite) TestBreakerStopsCallingDeadStore() {
	broken := &brokenStore{}
	c := New(broken, WithClock(s.clock.Now), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	loader := &countingLoader{value: []byte(`"direct"`)}
	ctx := context.Background()

	for range 8 {
		_, err := c.Get(ctx, TierList, ListKey(1, "a"), loader.load)
		s.Require().NoError(err)
	}
	s.Equal(int32(5), broken.calls.Load())
	s.Equal(int32(8), loader.calls.Load())

	s.clock.Advance(10 * time.Second)
	_, err := c.Get(ctx, TierList, ListKey(1, "a"), loader.load)
	s.Require().NoError(err)
	s.Equal(int32(6), broken.calls.Load())
}

func (s *CacheSuite) TestInvalidateReportsUnavailableStore() {
	c := New(&brokenStore{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := c.Invalidate(context.Background(), TierList, AllPattern)
	s.ErrorIs(err, ErrCacheUnavailable)
}
