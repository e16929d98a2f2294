//go:build integration

// Package containers starts the backing services of the pipeline for
// integration tests. Each container is started once per test binary and
// shared by every suite in the package.
package containers

import (
	"sync"
	"testing"
)

type lazy[T any] struct {
	once sync.Once
	v    T
}

func (l *lazy[T]) get(t *testing.T, start func(*testing.T) T) T {
	t.Helper()
	l.once.Do(func() { l.v = start(t) })
	return l.v
}

// Manager hands out the shared containers.
type Manager struct {
	postgres lazy[*PostgresContainer]
	redis    lazy[*RedisContainer]
	kafka    lazy[*KafkaContainer]
}

var manager = &Manager{}

func GetManager() *Manager {
	return manager
}

// GetPostgres returns a migrated Postgres holding the pipeline schema.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	return m.postgres.get(t, NewPostgresContainer)
}

// GetRedis returns the mapper cache backend.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	return m.redis.get(t, NewRedisContainer)
}

// GetKafka returns the broker the outbox worker publishes to.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	return m.kafka.get(t, NewKafkaContainer)
}
