package store

import (
	"context"
	"sync"

	"healthcred/internal/credential/models"
)

type memoryRow struct {
	seq int64
	doc models.StatDoc
}

// Memory is an in-process Stats collection.
type Memory struct {
	mu   sync.RWMutex
	rows []memoryRow
	seq  int64
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) BulkInsert(_ context.Context, docs []models.StatDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.seq++
		m.rows = append(m.rows, memoryRow{seq: m.seq, doc: d})
	}
	return nil
}

func (m *Memory) List(_ context.Context, q Query) (*Page, error) {
	after, err := decodeBookmark(q.Bookmark)
	if err != nil {
		return nil, err
	}
	limit := q.limit()

	m.mu.RLock()
	defer m.mu.RUnlock()
	page := &Page{}
	for _, r := range m.rows {
		if r.seq <= after || !matches(r.doc, q) {
			continue
		}
		if len(page.Docs) == limit {
			page.Bookmark = encodeBookmark(after)
			break
		}
		page.Docs = append(page.Docs, r.doc)
		after = r.seq
	}
	return page, nil
}

// All returns every stored doc in insertion order.
func (m *Memory) All() []models.StatDoc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StatDoc, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.doc)
	}
	return out
}

func matches(d models.StatDoc, q Query) bool {
	return d.EntityID == q.EntityID &&
		(q.HolderID == "" || d.HolderID == q.HolderID) &&
		(q.BatchID == "" || d.BatchID == q.BatchID)
}
