package sessions

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/authface/authface/tier"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	shardCount = 32

	mirrorAttempts = 3
	mirrorBackoff  = 250 * time.Millisecond
	mirrorTimeout  = 5 * time.Second

	keyPrefix = "session:"
)

// shard holds a slice of the session map behind its own lock so that
// operations on distinct session ids do not contend.
type shard struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// Store is the authoritative cache of active sessions. Memory is the
// source of truth for liveness; the durable repo is a recovery aid
// that is mirrored asynchronously and never consulted for expiry
// decisions on entries already in memory.
type Store struct {
	shards  [shardCount]*shard
	durable DurableRepo // may be nil (memory-only mode)

	sweepInterval time.Duration
	nowTime       func() time.Time // injectable for testing

	mirrors  sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// StoreOption modifies a Store during construction.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// WithSweepInterval overrides how often the background sweep evicts
// expired entries from memory.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// NewStore creates a session store. durable may be nil, in which case
// sessions live only in process memory.
func NewStore(durable DurableRepo, options ...StoreOption) *Store {
	s := &Store{
		durable:       durable,
		sweepInterval: time.Minute,
		nowTime:       time.Now,
		stop:          make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]Session)}
	}
	for _, opt := range options {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// Create builds a new session and stores it. The in-memory write is
// the durability boundary the caller observes; the durable mirror is
// fire-and-forget with bounded retries.
func (s *Store) Create(subject, provider string, t tier.Tier, ttl time.Duration, claims map[string]string) (Session, error) {
	if subject == "" {
		return Session{}, errors.New("[Store.Create] subject is required")
	}
	if provider == "" {
		return Session{}, errors.New("[Store.Create] provider is required")
	}
	if ttl <= 0 {
		return Session{}, errors.New("[Store.Create] ttl must be positive")
	}

	now := s.nowTime()
	session := Session{
		ID:        uuid.New().String(),
		Subject:   subject,
		Provider:  provider,
		Tier:      t,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Claims:    copyClaims(claims),
	}

	sh := s.shardFor(session.ID)
	sh.mu.Lock()
	sh.sessions[session.ID] = session
	sh.mu.Unlock()

	s.mirrorPut(session)

	return session.snapshot(), nil
}

// Get returns the session for id, or ok=false when it is unknown or
// expired. Expiry is checked at read time regardless of where the
// record physically lives. A cache miss falls through to the durable
// repo and repopulates memory on a hit.
func (s *Store) Get(ctx context.Context, id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	now := s.nowTime()

	sh := s.shardFor(id)
	sh.mu.RLock()
	session, ok := sh.sessions[id]
	sh.mu.RUnlock()

	if ok {
		if session.Expired(now) {
			s.evict(id)
			return Session{}, false
		}
		return session.snapshot(), true
	}

	if s.durable == nil {
		return Session{}, false
	}

	// Read-through without holding any shard lock: the remote call may
	// be slow and must not block unrelated sessions.
	raw, err := s.durable.Get(ctx, keyPrefix+id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("session_id", id).Msg("durable store read failed")
		}
		return Session{}, false
	}

	if err := json.Unmarshal(raw, &session); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("discarding undecodable durable session record")
		return Session{}, false
	}
	// The remote read may have taken long enough for the session to
	// expire in the meantime, so the clock is read again.
	if session.ID != id || session.Expired(s.nowTime()) {
		return Session{}, false
	}

	sh.mu.Lock()
	// Another request may have repopulated (or deleted and recreated)
	// the entry while the remote read was in flight; keep theirs.
	if existing, exists := sh.sessions[id]; exists {
		session = existing
	} else {
		sh.sessions[id] = session
	}
	sh.mu.Unlock()

	return session.snapshot(), true
}

// Delete removes the session from memory immediately and schedules a
// best-effort removal from the durable store. Deleting an unknown id
// is a no-op, not an error.
func (s *Store) Delete(id string) {
	if id == "" {
		return
	}
	s.evict(id)
	s.mirrorDelete(id)
}

// Revoke is administrative revocation; it has delete semantics. The
// session becomes invisible to Get (and to token liveness checks)
// as soon as the call returns.
func (s *Store) Revoke(id string) {
	s.Delete(id)
}

// Alive reports whether a session exists and is unexpired. Used by the
// token verifier's optional session-liveness mode.
func (s *Store) Alive(ctx context.Context, id string) bool {
	_, ok := s.Get(ctx, id)
	return ok
}

// ActiveCount returns the number of unexpired sessions currently held
// in memory.
func (s *Store) ActiveCount() int {
	now := s.nowTime()
	count := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, session := range sh.sessions {
			if !session.Expired(now) {
				count++
			}
		}
		sh.mu.RUnlock()
	}
	return count
}

// Close stops the sweep loop and waits for pending mirror writes to
// drain so a graceful shutdown does not lose durability.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.mirrors.Wait()
}

func (s *Store) evict(id string) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
}

// mirrorPut replicates the session to the durable store in the
// background. Failures degrade durability, never correctness: the
// caller already succeeded against memory.
func (s *Store) mirrorPut(session Session) {
	if s.durable == nil {
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("failed to encode session for durable mirror")
		return
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}

	s.mirrors.Add(1)
	go func() {
		defer s.mirrors.Done()
		var err error
		for attempt := 1; attempt <= mirrorAttempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			err = s.durable.Put(ctx, keyPrefix+session.ID, raw, ttl)
			cancel()
			if err == nil {
				return
			}
			time.Sleep(mirrorBackoff * time.Duration(attempt))
		}
		log.Warn().Err(err).Str("session_id", session.ID).Msg("durable mirror write failed; session is memory-only")
	}()
}

func (s *Store) mirrorDelete(id string) {
	if s.durable == nil {
		return
	}
	s.mirrors.Add(1)
	go func() {
		defer s.mirrors.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.durable.Delete(ctx, keyPrefix+id); err != nil {
			// Harmless: reads always re-check expiry, and the remote
			// TTL will reap the record eventually.
			log.Warn().Err(err).Str("session_id", id).Msg("durable delete failed")
		}
	}()
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := s.sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("evicted expired sessions")
			}
		case <-s.stop:
			return
		}
	}
}

// sweep removes expired entries shard by shard so foreground traffic
// is only ever blocked for a single shard at a time.
func (s *Store) sweep() int {
	now := s.nowTime()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, session := range sh.sessions {
			if session.Expired(now) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
