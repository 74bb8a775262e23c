package metadata

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MockStore implements MetadataStore for testing.
// It is exported so that tests in other packages can use it.
//
// Writes are reflected on the notification channel so that components
// watching the store (e.g. the policy manager) can be tested end to end.
type MockStore struct {
	mu       sync.RWMutex
	data     map[string]KV
	closed   bool
	nextVer  Version
	notifyCh chan Notification
	closeErr error
}

// NewMockStore creates a new MockStore for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		data:     make(map[string]KV),
		nextVer:  1,
		notifyCh: make(chan Notification, 100),
	}
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return GetResult{}, ErrStoreClosed
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{Exists: false}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	expectedVersion := ExtractExpectedVersion(opts)
	if expectedVersion != nil {
		existing, ok := m.data[key]
		if !ok && *expectedVersion != 0 {
			return 0, ErrVersionMismatch
		}
		if ok && existing.Version != *expectedVersion {
			return 0, ErrVersionMismatch
		}
	}

	ver := m.nextVer
	m.nextVer++
	m.data[key] = KV{Key: key, Value: value, Version: ver}
	m.notifyLocked(Notification{Key: key, Value: value, Version: ver})
	return ver, nil
}

func (m *MockStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	expectedVersion := ExtractDeleteExpectedVersion(opts)
	existing, ok := m.data[key]
	if !ok {
		return nil // Idempotent delete
	}
	if expectedVersion != nil && existing.Version != *expectedVersion {
		return ErrVersionMismatch
	}

	delete(m.data, key)
	m.notifyLocked(Notification{Key: key, Deleted: true})
	return nil
}

func (m *MockStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var keys []string
	for k := range m.data {
		if endKey == "" {
			// When endKey is empty, treat startKey as a prefix
			if strings.HasPrefix(k, startKey) {
				keys = append(keys, k)
			}
		} else {
			// Range query: [startKey, endKey)
			if k >= startKey && k < endKey {
				keys = append(keys, k)
			}
		}
	}

	// Sort lexicographically to match MetadataStore contract
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}

	return result, nil
}

func (m *MockStore) PutEphemeral(_ context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	if ExtractEphemeralOptions(opts) {
		if _, ok := m.data[key]; ok {
			return 0, ErrVersionMismatch
		}
	}

	ver := m.nextVer
	m.nextVer++
	m.data[key] = KV{Key: key, Value: value, Version: ver}
	m.notifyLocked(Notification{Key: key, Value: value, Version: ver})
	return ver, nil
}

func (m *MockStore) Notifications(_ context.Context) (NotificationStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return &mockNotificationStream{ch: m.notifyCh}, nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.notifyCh)
	return m.closeErr
}

// notifyLocked publishes a notification without blocking. Callers must hold m.mu.
func (m *MockStore) notifyLocked(n Notification) {
	select {
	case m.notifyCh <- n:
	default:
		// Buffer full; tests that care about notifications drain the stream.
	}
}

// SimulateNotification sends a notification through the store's notification channel.
// This is useful for testing watch behavior without performing a real write.
func (m *MockStore) SimulateNotification(n Notification) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if !closed {
		m.notifyCh <- n
	}
}

type mockNotificationStream struct {
	ch     chan Notification
	mu     sync.Mutex
	closed bool
}

func (s *mockNotificationStream) Next(ctx context.Context) (Notification, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Notification{}, errors.New("stream closed")
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case n, ok := <-s.ch:
		if !ok {
			return Notification{}, errors.New("stream closed")
		}
		return n, nil
	}
}

func (s *mockNotificationStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ensure MockStore implements MetadataStore
var _ MetadataStore = (*MockStore)(nil)
