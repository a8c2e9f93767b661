package db

import (
	"context"
	"sort"
	"sync"

	"subsync/internal/types"
)

// MemoryStore is a mutex-guarded SubscriptionStore used with
// STORE_BACKEND=memory and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.SubscriptionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]types.SubscriptionRecord)}
}

// Put stores rec unconditionally.
func (m *MemoryStore) Put(rec types.SubscriptionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = copyRecord(rec)
}

func (m *MemoryStore) EnsureUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[userID]; !ok {
		m.records[userID] = types.NewInactiveRecord(userID)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*types.SubscriptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	out := copyRecord(rec)
	return &out, nil
}

func (m *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*types.SubscriptionRecord, error) {
	if externalID == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.ExternalSubscriptionID == externalID {
			out := copyRecord(rec)
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CompareAndSet(_ context.Context, expectedSequence int64, rec types.SubscriptionRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[rec.UserID]
	if !ok || cur.LastEventSequence != expectedSequence {
		return false, nil
	}
	m.records[rec.UserID] = copyRecord(rec)
	return true, nil
}

// UserIDs lists stored users in sorted order.
func (m *MemoryStore) UserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// copyRecord detaches StartDate so callers cannot mutate stored state.
func copyRecord(rec types.SubscriptionRecord) types.SubscriptionRecord {
	if rec.StartDate != nil {
		t := *rec.StartDate
		rec.StartDate = &t
	}
	return rec
}
