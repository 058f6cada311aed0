package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository. Tokens are lost on
// restart; it backs tests and single-node development setups.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	err     error
}

type memoryRecord struct {
	Record
	revokedAt time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]memoryRecord)}
}

// SetError makes every subsequent call fail with err until cleared with nil.
func (m *MemoryRepository) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// InsertToken stores a copy of rec.
func (m *MemoryRepository) InsertToken(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[rec.TokenID] = memoryRecord{Record: *rec}
	return nil
}

// FindActiveToken returns the record for tokenID if active at now.
func (m *MemoryRepository) FindActiveToken(_ context.Context, tokenID string, now time.Time) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[tokenID]
	if !ok || !r.revokedAt.IsZero() || !now.Before(r.ExpiresAt) {
		return nil, ErrTokenNotFound
	}
	rec := r.Record
	return &rec, nil
}

// RevokeToken marks tokenID revoked.
func (m *MemoryRepository) RevokeToken(_ context.Context, tokenID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if r, ok := m.records[tokenID]; ok && r.revokedAt.IsZero() {
		r.revokedAt = now
		m.records[tokenID] = r
	}
	return nil
}

// RevokeUserTokens revokes the user's active tokens except exceptTokenID.
func (m *MemoryRepository) RevokeUserTokens(
	_ context.Context, userID, exceptTokenID string, now time.Time,
) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var ids []string
	for id, r := range m.records {
		if r.UserID != userID || id == exceptTokenID || !r.revokedAt.IsZero() || !now.Before(r.ExpiresAt) {
			continue
		}
		r.revokedAt = now
		m.records[id] = r
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateEmail rewrites the email on the user's records, mirroring the
// users join the Postgres repository performs.
func (m *MemoryRepository) UpdateEmail(userID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.UserID == userID {
			r.Email = email
			m.records[id] = r
		}
	}
}

// Ping reports the injected error, if any.
func (m *MemoryRepository) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}
