package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/types"
)

func TestMemoryStore_GetAndLookup(t *testing.T) {
	m := NewMemoryStore()
	start := time.Now().UTC()
	m.Put(types.SubscriptionRecord{
		UserID: "U1", Plan: types.PlanPro, Status: types.SubStatusActive,
		ExternalSubscriptionID: "sub_1", StartDate: &start, LastEventSequence: 5,
	})

	rec, err := m.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", rec.ExternalSubscriptionID)

	rec, err = m.GetByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "U1", rec.UserID)

	rec, err = m.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = m.GetByExternalID(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Put(types.SubscriptionRecord{UserID: "U1", Status: types.SubStatusCanceled, StartDate: &start})

	rec, _ := m.Get(context.Background(), "U1")
	*rec.StartDate = time.Time{}
	rec.Status = types.SubStatusActive

	again, _ := m.Get(context.Background(), "U1")
	assert.Equal(t, start, *again.StartDate)
	assert.Equal(t, types.SubStatusCanceled, again.Status)
}

func TestMemoryStore_CompareAndSet(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.EnsureUser(context.Background(), "U1"))

	next := types.NewInactiveRecord("U1")
	next.LastEventSequence = 10

	ok, err := m.CompareAndSet(context.Background(), 0, next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.CompareAndSet(context.Background(), 0, next)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected sequence must lose")

	ok, _ = m.CompareAndSet(context.Background(), 0, types.NewInactiveRecord("ghost"))
	assert.False(t, ok, "unknown users cannot be written")
}

func TestMemoryStore_EnsureUserKeepsExisting(t *testing.T) {
	m := NewMemoryStore()
	m.Put(types.SubscriptionRecord{UserID: "U1", Status: types.SubStatusPastDue, LastEventSequence: 3})
	require.NoError(t, m.EnsureUser(context.Background(), "U1"))

	rec, _ := m.Get(context.Background(), "U1")
	assert.Equal(t, types.SubStatusPastDue, rec.Status)
	assert.Equal(t, []string{"U1"}, m.UserIDs())
}

func TestMemoryStore_ConcurrentCASHasOneWinner(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.EnsureUser(context.Background(), "U1"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			rec := types.NewInactiveRecord("U1")
			rec.LastEventSequence = seq
			if ok, _ := m.CompareAndSet(context.Background(), 0, rec); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
