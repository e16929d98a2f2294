// Package sync holds keyed locking helpers.
package sync

import (
	"hash/maphash"
	"sync"
)

const shardCount = 32

// KeyedMutex serializes work per key with a fixed set of shards. Two keys
// may share a shard, so holders of one key must not take another.
type KeyedMutex struct {
	seed   maphash.Seed
	shards [shardCount]sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{seed: maphash.MakeSeed()}
}

func (m *KeyedMutex) Lock(key string) {
	m.shards[m.shard(key)].Lock()
}

func (m *KeyedMutex) Unlock(key string) {
	m.shards[m.shard(key)].Unlock()
}

// Do runs fn while holding key's shard.
func (m *KeyedMutex) Do(key string, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}

func (m *KeyedMutex) shard(key string) uint64 {
	if key == "" {
		return 0
	}
	return maphash.String(m.seed, key) % shardCount
}
