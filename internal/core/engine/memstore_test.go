package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clawpulse/syncrelay/internal/core"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryRecordStore is a RecordStore kept in a map.
type memoryRecordStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	records map[string]core.SyncRecord

	failGet    error
	failDelete error
	puts       int
}

func newMemoryRecordStore(clock func() time.Time) *memoryRecordStore {
	return &memoryRecordStore{clock: clock, records: make(map[string]core.SyncRecord)}
}

func (m *memoryRecordStore) Put(ctx context.Context, hash string, payload []byte) (core.SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	now := m.clock()
	rec, ok := m.records[hash]
	if !ok {
		rec = core.SyncRecord{TokenHash: hash, CreatedAt: now}
	}
	if ok && !now.After(rec.UpdatedAt) {
		now = rec.UpdatedAt.Add(time.Nanosecond)
	}
	rec.Payload = append([]byte(nil), payload...)
	rec.UpdatedAt = now
	m.records[hash] = rec
	return rec, nil
}

func (m *memoryRecordStore) Get(ctx context.Context, hash string) (core.SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failGet != nil {
		return core.SyncRecord{}, m.failGet
	}
	rec, ok := m.records[hash]
	if !ok {
		return core.SyncRecord{}, core.ErrNotFound
	}
	return rec, nil
}

func (m *memoryRecordStore) Delete(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failDelete != nil {
		return false, m.failDelete
	}
	_, ok := m.records[hash]
	delete(m.records, hash)
	return ok, nil
}

func (m *memoryRecordStore) DeleteIfOlderThan(ctx context.Context, hash string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failDelete != nil {
		return false, m.failDelete
	}
	rec, ok := m.records[hash]
	if !ok || !rec.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	delete(m.records, hash)
	return true, nil
}

func (m *memoryRecordStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failDelete != nil {
		return 0, m.failDelete
	}
	var removed int64
	for hash, rec := range m.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(m.records, hash)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryRecordStore) Ping(ctx context.Context) error {
	return nil
}

func (m *memoryRecordStore) has(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[hash]
	return ok
}

func (m *memoryRecordStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

var errDiskGone = fmt.Errorf("%w: disk gone", core.ErrStorage)
