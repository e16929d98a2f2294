// Package store provides holder profile stores.
package store

import (
	"context"
	"sync"

	"healthcred/internal/holder"
	"healthcred/pkg/platform/sentinel"
)

// Memory keeps profiles in a map.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]holder.Profile
}

func NewMemory(seed ...*holder.Profile) *Memory {
	m := &Memory{profiles: make(map[string]holder.Profile)}
	for _, p := range seed {
		m.profiles[p.HolderID] = *p
	}
	return m
}

func (m *Memory) Get(_ context.Context, holderID string) (*holder.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[holderID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) Put(_ context.Context, p *holder.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.HolderID] = *p
	return nil
}
