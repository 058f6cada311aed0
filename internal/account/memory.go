package account

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process UserRepository for tests and
// single-node development.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
	err   error
}

var _ UserRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*User)}
}

// SetError makes every subsequent call fail with err until cleared with nil.
func (m *MemoryRepository) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryRepository) emailInUse(email string) bool {
	for _, u := range m.users {
		if u.Email == email {
			return true
		}
	}
	return false
}

// CreateUser stores a copy of u.
func (m *MemoryRepository) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.emailInUse(u.Email) {
		return ErrEmailTaken
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// GetUserByID returns a copy of the user with id.
func (m *MemoryRepository) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail returns a copy of the user with email.
func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdatePassword replaces the password hash.
func (m *MemoryRepository) UpdatePassword(_ context.Context, id, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = now
	return nil
}

// SetPendingEmail records email as pending.
func (m *MemoryRepository) SetPendingEmail(_ context.Context, id, email string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if m.emailInUse(email) {
		return ErrEmailTaken
	}
	u.PendingEmail = email
	u.UpdatedAt = now
	return nil
}

// ConfirmEmail applies the pending email if it equals email.
func (m *MemoryRepository) ConfirmEmail(_ context.Context, id, email string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	u, ok := m.users[id]
	if !ok || u.PendingEmail == "" || u.PendingEmail != email {
		return ErrNoPendingEmail
	}
	if m.emailInUse(email) {
		return ErrEmailTaken
	}
	u.Email = email
	u.PendingEmail = ""
	u.UpdatedAt = now
	return nil
}

// Ping returns the configured error.
func (m *MemoryRepository) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}
