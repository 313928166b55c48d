// Package store provides document-store backends for per-user ride records:
// Firestore for production, Postgres (JSONB) as an alternative, and an
// in-memory map for tests and local runs. All backends key documents by
// phone number under a `{prefix}users` collection.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/common"
)

// Memory is a thread-safe in-memory backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage // prefix -> phone -> document
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]json.RawMessage)}
}

// GetUser implements rides.UserStore.
func (m *Memory) GetUser(_ context.Context, prefix, phone string) (*rides.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[prefix][phone]
	if !ok {
		return nil, common.ErrNotFound
	}

	var u rides.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveUser implements rides.UserStore. Documents are stored serialized so
// callers never share mutable state with the backend.
func (m *Memory) SaveUser(_ context.Context, prefix string, user *rides.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[prefix] == nil {
		m.data[prefix] = make(map[string]json.RawMessage)
	}
	m.data[prefix][user.PhoneNumber] = raw
	return nil
}

// DeleteUser implements rides.UserStore.
func (m *Memory) DeleteUser(_ context.Context, prefix, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[prefix], phone)
	return nil
}

// ListUsers implements rides.UserStore.
func (m *Memory) ListUsers(_ context.Context, prefix string) ([]*rides.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*rides.User, 0, len(m.data[prefix]))
	for _, raw := range m.data[prefix] {
		var u rides.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, nil
}

// Ping implements rides.UserStore.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements rides.UserStore.
func (m *Memory) Close() error { return nil }
