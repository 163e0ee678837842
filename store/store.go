package store

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/assessment/internal/profile"
	"github.com/hrygo/assessment/plugin/ai/cache"
)

const (
	// sessionCachePrefix is the key prefix for cached session snapshots.
	sessionCachePrefix = "session:"

	cacheStripes = 64
)

// Store is the two-tier session store: an in-process cache in front of the
// durable driver. The driver's versioned compare-and-swap is the source of truth.
type Store struct {
	profile *profile.Profile
	driver  Driver

	sessionCache *cache.Service
	cacheTTL     time.Duration
	retry        retryPolicy

	// loads collapses concurrent cache-miss reads of one session.
	loads singleflight.Group
	// stripes serialize cache read-compare-write per session key.
	stripes [cacheStripes]sync.Mutex
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		profile: profile,
		driver:  driver,
		sessionCache: cache.NewService(cache.ServiceConfig{
			Name:            "session",
			Capacity:        profile.CacheCapacity,
			DefaultTTL:      profile.CacheTTL,
			CleanupInterval: time.Minute,
		}),
		cacheTTL: profile.CacheTTL,
		retry:    newRetryPolicy(profile.PersistAttempts, profile.PersistBackoff),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.sessionCache.Close()
	return s.driver.Close()
}

// Ping checks that the durable store answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.GetDB().PingContext(ctx)
}

// CacheStats exposes session cache counters.
func (s *Store) CacheStats() cache.Stats {
	return s.sessionCache.Stats()
}

// CreateSession durably writes a new session, then caches it.
func (s *Store) CreateSession(ctx context.Context, create *Session) (*Session, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}

	var created *Session
	err := s.withRetry(ctx, "create session", func(ctx context.Context) error {
		var err error
		created, err = s.driver.CreateSession(ctx, create)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cacheSession(ctx, created)
	return created.Clone(), nil
}

// GetSession looks in the cache first, then the durable store, warming the
// cache on a durable hit. It returns ErrNotFound when neither has the session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if cached, ok := s.cachedSession(ctx, id); ok {
		return cached, nil
	}

	v, err, _ := s.loads.Do(id, func() (any, error) {
		var session *Session
		err := s.withRetry(ctx, "get session", func(ctx context.Context) error {
			var err error
			session, err = s.driver.GetSession(ctx, id)
			return err
		})
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, errors.Wrapf(ErrNotFound, "session %s", id)
		}
		s.cacheSession(ctx, session)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session).Clone(), nil
}

// ListSessions reads from the durable store only.
func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	var list []*Session
	err := s.withRetry(ctx, "list sessions", func(ctx context.Context) error {
		var err error
		list, err = s.driver.ListSessions(ctx, find)
		return err
	})
	return list, err
}

// UpdateSession applies a versioned compare-and-swap. The cache is refreshed
// only after the durable write commits and invalidated on any failure.
func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	if update == nil {
		return nil, errors.Wrap(ErrValidation, "update is nil")
	}
	if err := update.Session.Validate(); err != nil {
		return nil, err
	}
	if update.ExpectedVersion < 1 {
		return nil, errors.Wrapf(ErrValidation, "invalid expected version %d", update.ExpectedVersion)
	}

	var updated *Session
	err := s.withRetry(ctx, "update session", func(ctx context.Context) error {
		var err error
		updated, err = s.driver.UpdateSession(ctx, update)
		return err
	})
	if err != nil {
		s.invalidateSession(ctx, update.Session.ID)
		return nil, err
	}

	s.cacheSession(ctx, updated)
	return updated.Clone(), nil
}

func (s *Store) ListConversationTurns(ctx context.Context, find *FindConversationTurn) ([]*ConversationTurn, error) {
	var list []*ConversationTurn
	err := s.withRetry(ctx, "list conversation turns", func(ctx context.Context) error {
		var err error
		list, err = s.driver.ListConversationTurns(ctx, find)
		return err
	})
	return list, err
}

func (s *Store) ListModuleTransitions(ctx context.Context, find *FindModuleTransition) ([]*ModuleTransition, error) {
	var list []*ModuleTransition
	err := s.withRetry(ctx, "list module transitions", func(ctx context.Context) error {
		var err error
		list, err = s.driver.ListModuleTransitions(ctx, find)
		return err
	})
	return list, err
}

func (s *Store) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.stripes[h.Sum32()%cacheStripes]
}

func (s *Store) cachedSession(ctx context.Context, id string) (*Session, bool) {
	data, ok := s.sessionCache.Get(ctx, sessionCachePrefix+id)
	if !ok {
		return nil, false
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		slog.Warn("failed to decode cached session", "session_id", id, "error", err)
		s.invalidateSession(ctx, id)
		return nil, false
	}
	return &session, true
}

// cacheSession never replaces a newer cached version with an older one, so a
// slow cache-warming read cannot clobber a fresher committed write.
func (s *Store) cacheSession(ctx context.Context, session *Session) {
	data, err := json.Marshal(session)
	if err != nil {
		slog.Warn("failed to encode session for cache", "session_id", session.ID, "error", err)
		return
	}

	mu := s.stripe(session.ID)
	mu.Lock()
	defer mu.Unlock()

	if current, ok := s.sessionCache.Get(ctx, sessionCachePrefix+session.ID); ok {
		var cached struct {
			Version int64 `json:"version"`
		}
		if json.Unmarshal(current, &cached) == nil && cached.Version > session.Version {
			return
		}
	}
	if err := s.sessionCache.Set(ctx, sessionCachePrefix+session.ID, data, s.cacheTTL); err != nil {
		slog.Warn("failed to update cache", "key", sessionCachePrefix+session.ID, "error", err)
	}
}

func (s *Store) invalidateSession(ctx context.Context, id string) {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.sessionCache.Invalidate(ctx, sessionCachePrefix+id); err != nil {
		slog.Warn("failed to invalidate cache", "key", sessionCachePrefix+id, "error", err)
	}
}
