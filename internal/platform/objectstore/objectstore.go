// Package objectstore persists submission payloads keyed by an
// organization-scoped container and a file name.
package objectstore

import (
	"context"
	"path"
	"slices"
	"strings"
	"sync"

	"healthcred/pkg/platform/sentinel"
)

// Store is the object storage surface the pipeline needs.
type Store interface {
	Put(ctx context.Context, container, name string, data []byte) error
	// Get returns sentinel.ErrNotFound for a missing object.
	Get(ctx context.Context, container, name string) ([]byte, error)
	List(ctx context.Context, container string) ([]string, error)
	Delete(ctx context.Context, container, name string) error
}

// ContainerFor returns the container that holds an organization's submissions.
func ContainerFor(entityID string) string {
	return "entity-" + strings.ToLower(entityID)
}

func objectKey(container, name string) string {
	return path.Join(container, name)
}

// Memory is an in-process Store used when no bucket is configured.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, container, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(container, name)] = slices.Clone(data)
	return nil
}

func (m *Memory) Get(_ context.Context, container, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectKey(container, name)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *Memory) List(_ context.Context, container string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := container + "/"
	var names []string
	for key := range m.objects {
		if name, ok := strings.CutPrefix(key, prefix); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (m *Memory) Delete(_ context.Context, container, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey(container, name))
	return nil
}
