package repository

import (
	"context"
	"sync"
	"time"

	"clinicbook/internal/domain"
	"clinicbook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverSessionRepository serves from primary and switches to fallback
// when primary errors. It retries primary once per recoveryInterval.
type FailoverSessionRepository struct {
	primary  domain.SessionRepository
	fallback domain.SessionRepository
	logger   *zerolog.Logger

	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverSessionRepository(primary, fallback domain.SessionRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	return &FailoverSessionRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverSessionRepository) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		return true
	}
	if r.now().Sub(r.lastCheck) > recoveryInterval {
		r.lastCheck = r.now()
		return true
	}
	return false
}

func (r *FailoverSessionRepository) markDown(err error) {
	r.mu.Lock()
	wasDown := r.isDown
	r.isDown = true
	r.lastCheck = r.now()
	r.mu.Unlock()

	if !wasDown {
		r.logger.Error().Err(err).Msg("Primary session repository failed, falling back to memory")
	}
}

func (r *FailoverSessionRepository) markUp() {
	r.mu.Lock()
	wasDown := r.isDown
	r.isDown = false
	r.mu.Unlock()

	if wasDown {
		r.logger.Info().Msg("Primary session repository recovered")
	}
}

func (r *FailoverSessionRepository) GetSession(ctx context.Context, id string) (*models.BookingSession, error) {
	if r.usePrimary() {
		session, err := r.primary.GetSession(ctx, id)
		if err == nil {
			r.markUp()
			if session != nil {
				return session, nil
			}
			// sessions written during an outage live only in fallback
			return r.fallback.GetSession(ctx, id)
		}
		r.markDown(err)
	}
	return r.fallback.GetSession(ctx, id)
}

func (r *FailoverSessionRepository) SaveSession(ctx context.Context, session *models.BookingSession) error {
	if r.usePrimary() {
		err := r.primary.SaveSession(ctx, session)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SaveSession(ctx, session)
}

func (r *FailoverSessionRepository) DeleteSession(ctx context.Context, id string) error {
	_ = r.fallback.DeleteSession(ctx, id)
	if r.usePrimary() {
		err := r.primary.DeleteSession(ctx, id)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverSessionRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}

func (r *FailoverSessionRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.AcquireLock(ctx, key, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.AcquireLock(ctx, key, ttl)
}

// ReleaseLock clears both stores; the lock may have been taken on either side
// of a failover.
func (r *FailoverSessionRepository) ReleaseLock(ctx context.Context, key string) error {
	_ = r.fallback.ReleaseLock(ctx, key)
	if r.usePrimary() {
		err := r.primary.ReleaseLock(ctx, key)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return nil
}
