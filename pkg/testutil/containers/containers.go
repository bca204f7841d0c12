//go:build integration

// Package containers holds the testcontainers fixtures used by integration
// suites. Each backend starts at most once per test binary and is shared by
// every suite that asks for it; Ryuk reaps them when the binary exits.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out the shared backends.
type Manager struct {
	postgres shared[*PostgresContainer]
	redis    shared[*RedisContainer]
	kafka    shared[*KafkaContainer]
}

var manager = &Manager{}

// GetManager returns the process-wide manager.
func GetManager() *Manager { return manager }

// GetPostgres returns the migrated billing database.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return m.postgres.get(t, NewPostgresContainer)
}

// GetRedis returns the cache backend.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return m.redis.get(t, NewRedisContainer)
}

// GetKafka returns the notification broker.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return m.kafka.get(t, NewKafkaContainer)
}

// shared starts a container on first use. A failed start is not cached, so
// the next suite retries instead of inheriting a nil fixture.
type shared[T any] struct {
	mu      sync.Mutex
	started bool
	value   T
}

func (s *shared[T]) get(t *testing.T, start func(*testing.T) T) T {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.value = start(t)
		s.started = true
	}
	return s.value
}
