// Package store persists mapper definitions.
package store

import (
	"context"
	"sync"

	"healthcred/internal/mapper"
	"healthcred/pkg/platform/sentinel"
)

// Memory keeps mappers in process.
type Memory struct {
	mu      sync.RWMutex
	mappers map[string]mapper.Mapper
}

// NewMemory returns a store preloaded with seed.
func NewMemory(seed ...*mapper.Mapper) *Memory {
	m := &Memory{mappers: make(map[string]mapper.Mapper)}
	for _, s := range seed {
		m.mappers[s.Name] = *s
	}
	return m
}

func (m *Memory) Get(_ context.Context, name string) (*mapper.Mapper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found, ok := m.mappers[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &found, nil
}

func (m *Memory) Put(_ context.Context, mp *mapper.Mapper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappers[mp.Name] = *mp
	return nil
}
