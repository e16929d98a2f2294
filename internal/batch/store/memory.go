package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"healthcred/internal/batch/models"
	"healthcred/pkg/platform/sentinel"
)

type rowKey struct {
	entityID string
	batchID  string
	rowID    int
}

type batchKey struct {
	entityID string
	batchID  string
}

// Memory implements Queue and Reports in process.
type Memory struct {
	mu      sync.RWMutex
	rows    map[rowKey]models.Row
	reports map[batchKey]models.Report
}

func NewMemory() *Memory {
	return &Memory{
		rows:    make(map[rowKey]models.Row),
		reports: make(map[batchKey]models.Report),
	}
}

func (m *Memory) Insert(_ context.Context, rows []models.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if _, ok := m.rows[rowKey{r.EntityID, r.BatchID, r.RowID}]; ok {
			return fmt.Errorf("row %d of batch %s: %w", r.RowID, r.BatchID, sentinel.ErrConflict)
		}
	}
	for _, r := range rows {
		r.Fields = maps.Clone(r.Fields)
		m.rows[rowKey{r.EntityID, r.BatchID, r.RowID}] = r
	}
	return nil
}

func (m *Memory) Count(_ context.Context, entityID, batchID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.rows {
		if k.entityID == entityID && k.batchID == batchID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Pending(_ context.Context, q Query) (*Page, error) {
	after, err := decodeBookmark(q.Bookmark)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	var rows []models.Row
	for k, r := range m.rows {
		if k.entityID == q.EntityID && k.batchID == q.BatchID && k.rowID > after && !r.Failed() {
			rows = append(rows, r)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(rows, func(a, b models.Row) int { return a.RowID - b.RowID })

	page := &Page{Rows: rows}
	if limit := q.limit(); len(rows) > limit {
		page.Rows = rows[:limit]
		page.Bookmark = encodeBookmark(rows[limit-1].RowID)
	}
	return page, nil
}

func (m *Memory) Delete(_ context.Context, entityID, batchID string, rowID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey{entityID, batchID, rowID}
	if _, ok := m.rows[k]; !ok {
		return sentinel.ErrNotFound
	}
	delete(m.rows, k)
	return nil
}

func (m *Memory) DeleteBatch(_ context.Context, entityID, batchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.rows {
		if k.entityID == entityID && k.batchID == batchID {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Annotate(_ context.Context, entityID, batchID string, rowID int, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey{entityID, batchID, rowID}
	r, ok := m.rows[k]
	if !ok {
		return sentinel.ErrNotFound
	}
	r.ErrorMessage = msg
	m.rows[k] = r
	return nil
}

// Rows returns every row of a batch, failed ones included, in row-id order.
func (m *Memory) Rows(entityID, batchID string) []models.Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Row
	for k, r := range m.rows {
		if k.entityID == entityID && k.batchID == batchID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.Row) int { return a.RowID - b.RowID })
	return out
}

func (m *Memory) PutReport(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.FailedRows = slices.Clone(r.FailedRows)
	cp.BatchFailureMessages = slices.Clone(r.BatchFailureMessages)
	m.reports[batchKey{r.EntityID, r.BatchID}] = cp
	return nil
}

func (m *Memory) GetReport(_ context.Context, entityID, batchID string) (*models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[batchKey{entityID, batchID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}
