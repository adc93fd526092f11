package repository

import (
	"context"
	"sync"
	"time"

	"clinicbook/internal/models"
)

type MemorySessionRepository struct {
	mu         sync.Mutex
	sessions   map[string]memorySession
	rateLimits map[string]*rateLimitEntry
	locks      map[string]time.Time
	ttl        time.Duration
	now        func() time.Time
}

type memorySession struct {
	session   models.BookingSession
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions:   make(map[string]memorySession),
		rateLimits: make(map[string]*rateLimitEntry),
		locks:      make(map[string]time.Time),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *MemorySessionRepository) GetSession(_ context.Context, id string) (*models.BookingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		delete(r.sessions, id)
		return nil, nil
	}
	session := entry.session
	return &session, nil
}

func (r *MemorySessionRepository) SaveSession(_ context.Context, session *models.BookingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := memorySession{session: *session}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.sessions[session.ID] = entry
	return nil
}

func (r *MemorySessionRepository) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++

	return entry.count <= limit, nil
}

func (r *MemorySessionRepository) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, held := r.locks[key]; held && now.Before(expiresAt) {
		return false, nil
	}
	r.locks[key] = now.Add(ttl)
	return true, nil
}

func (r *MemorySessionRepository) ReleaseLock(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, key)
	return nil
}
