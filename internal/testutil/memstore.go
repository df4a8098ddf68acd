package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/kjannette/stockviewer-backend/internal/models"
	"github.com/kjannette/stockviewer-backend/internal/repository"
)

// MemStore is an in-memory stand-in for repository.StockRepo with the same
// error semantics. Set Err to make every call fail with a store error.
type MemStore struct {
	mu   sync.Mutex
	rows map[models.RecordKey]models.StockRecord

	Err error
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[models.RecordKey]models.StockRecord)}
}

func (m *MemStore) fail(op string) error {
	if m.Err != nil {
		return &models.StoreError{Op: op, Err: m.Err}
	}
	return nil
}

func (m *MemStore) Create(_ context.Context, rec *models.StockRecord) (*models.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create"); err != nil {
		return nil, err
	}
	if _, ok := m.rows[rec.Key()]; ok {
		return nil, models.ErrConflict
	}
	m.rows[rec.Key()] = *rec
	out := *rec
	return &out, nil
}

func (m *MemStore) Get(_ context.Context, key models.RecordKey) (*models.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("get"); err != nil {
		return nil, err
	}
	rec, ok := m.rows[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (m *MemStore) List(_ context.Context) ([]models.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list"); err != nil {
		return nil, err
	}
	out := make([]models.StockRecord, 0, len(m.rows))
	for _, rec := range m.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TradeDate.Equal(out[j].TradeDate) {
			return out[i].TradeDate.Before(out[j].TradeDate)
		}
		return out[i].TradeCode < out[j].TradeCode
	})
	return out, nil
}

func (m *MemStore) Update(_ context.Context, key models.RecordKey, patch *models.RecordPatch) (*models.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update"); err != nil {
		return nil, err
	}
	rec, ok := m.rows[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	if patch != nil {
		patch.Apply(&rec)
	}
	m.rows[key] = rec
	return &rec, nil
}

func (m *MemStore) Delete(_ context.Context, key models.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete"); err != nil {
		return err
	}
	if _, ok := m.rows[key]; !ok {
		return models.ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

func (m *MemStore) BulkImport(_ context.Context, recs []models.StockRecord) (*models.ImportSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("bulk import"); err != nil {
		return nil, err
	}
	existing := make(map[models.RecordKey]bool, len(m.rows))
	for k := range m.rows {
		existing[k] = true
	}
	plan := repository.PlanImport(recs, existing)
	for _, rec := range plan.Insert {
		m.rows[rec.Key()] = rec
	}
	return &plan.Summary, nil
}

func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
