package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"ivr-platform/internal/users"
	"ivr-platform/pkg/logger"
)

// Store owns the session lifecycle across stateless webhook deliveries.
//
// Reads go cache first, then the repository; a storage hit repopulates the
// cache. Storage is authoritative on miss.
//
// Mutations are fail-soft: errors are logged and swallowed so a tracking
// failure never interrupts a live phone call.
type Store struct {
	repo  Repository
	cache Cache
	users users.Directory

	locks keyedMutex
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewStore(repo Repository, cache Cache, dir users.Directory) *Store {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Store{
		repo:  repo,
		cache: cache,
		users: dir,
		locks: keyedMutex{locks: make(map[string]*refLock)},
		clock: time.Now,
	}
}

// StepEntry is one LogStep request. An empty Type logs an interaction.
type StepEntry struct {
	Prompt       string
	Type         StepType
	UserResponse *string
}

// Response is a convenience for building StepEntry.UserResponse.
func Response(v string) *string { return &v }

// FindActive returns the session for providerCallID. Absent means unknown
// call, not failure; storage errors are logged and reported as absent.
func (s *Store) FindActive(ctx context.Context, providerCallID string) (*Session, bool) {
	sess := s.findActive(ctx, providerCallID)
	return sess, sess != nil
}

func (s *Store) findActive(ctx context.Context, providerCallID string) *Session {
	log := logger.From(ctx)

	cached, err := s.cache.Get(ctx, providerCallID)
	if err != nil {
		log.Warn("call cache read failed", "call_sid", providerCallID, "err", err)
	}
	if cached != nil {
		return cached
	}

	stored, err := s.repo.FindByProviderCallID(ctx, providerCallID)
	if err != nil {
		log.Error("call session lookup failed", "call_sid", providerCallID, "err", err)
		return nil
	}
	if stored == nil {
		return nil
	}
	// Closed sessions are never cached; finalize is the only eviction.
	if stored.IsOpen {
		s.cachePut(ctx, stored)
	}
	return stored
}

// Initialize creates the session for a new call. It is idempotent: an
// existing session for providerCallID is adopted and no row is created.
//
// The owner is resolved from the dialed number. When no user owns it the
// call is logged and nothing is persisted; the return value is then nil.
func (s *Store) Initialize(ctx context.Context, providerCallID, callerPhone, dialedNumber string) *Session {
	unlock := s.locks.lock(providerCallID)
	defer unlock()

	log := logger.From(ctx).With("call_sid", providerCallID)

	if existing := s.findActive(ctx, providerCallID); existing != nil {
		log.Info("call session adopted", "session_id", existing.ID, "phone", callerPhone)
		return existing
	}

	owner, err := s.users.FindByPhoneNumber(ctx, dialedNumber)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			log.Warn("no user owns dialed number", "to", dialedNumber, "from", callerPhone)
		} else {
			log.Error("owner lookup failed", "to", dialedNumber, "err", err)
		}
		return nil
	}

	now := s.clock().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         owner.ID,
		ProviderCallID: providerCallID,
		Phone:          callerPhone,
		History:        []Step{},
		CurrentStep:    StepCallStarted,
		Data: SessionData{
			CallID:    providerCallID,
			Phone:     callerPhone,
			Version:   SchemaVersion,
			StartedAt: now,
		},
		IsOpen:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Another instance created it between our lookup and insert.
			if existing := s.findActive(ctx, providerCallID); existing != nil {
				log.Info("call session adopted after create race", "session_id", existing.ID)
				return existing
			}
		}
		log.Error("call session create failed", "err", err)
		return nil
	}

	s.cachePut(ctx, sess)
	log.Info("call session created", "session_id", sess.ID, "user_id", sess.UserID)
	return sess.Clone()
}

// LogStep appends one step and persists the whole session. It is the only
// writer of History. Unknown calls are a warning, never an error.
func (s *Store) LogStep(ctx context.Context, providerCallID string, e StepEntry) {
	unlock := s.locks.lock(providerCallID)
	defer unlock()
	s.logStep(ctx, providerCallID, e)
}

func (s *Store) logStep(ctx context.Context, providerCallID string, e StepEntry) {
	log := logger.From(ctx)

	sess := s.findActive(ctx, providerCallID)
	if sess == nil {
		log.Warn("log step for unknown call", "call_sid", providerCallID, "step_type", e.Type)
		return
	}

	s.appendStep(sess, e)
	s.save(ctx, sess)
}

func (s *Store) appendStep(sess *Session, e StepEntry) {
	typ := e.Type
	if typ == "" {
		typ = StepInteraction
	}
	now := s.clock().UTC()
	sess.History = append(sess.History, NewStep(now, e.Prompt, typ, e.UserResponse))
	sess.CurrentStep = typ
	if e.UserResponse != nil {
		sess.Data.LastPrompt = e.Prompt
		sess.Data.LastResponse = *e.UserResponse
	}
	sess.UpdatedAt = now
}

// SetParams merges provider parameters into the session data.
// Existing keys not named in params are kept.
func (s *Store) SetParams(ctx context.Context, providerCallID string, params map[string]string) {
	if len(params) == 0 {
		return
	}
	unlock := s.locks.lock(providerCallID)
	defer unlock()

	sess := s.findActive(ctx, providerCallID)
	if sess == nil {
		return
	}
	for k, v := range params {
		sess.Data.SetParam(k, v)
	}
	sess.UpdatedAt = s.clock().UTC()
	s.save(ctx, sess)
}

// FinalizeCall closes the session and evicts it from the cache so later
// lookups recheck storage. Finalizing a closed session is a no-op.
func (s *Store) FinalizeCall(ctx context.Context, providerCallID string) {
	unlock := s.locks.lock(providerCallID)
	defer unlock()

	log := logger.From(ctx)
	sess := s.findActive(ctx, providerCallID)
	if sess == nil {
		log.Warn("finalize for unknown call", "call_sid", providerCallID)
		return
	}
	if !sess.IsOpen {
		log.Info("call session already finalized", "call_sid", providerCallID)
		return
	}

	now := s.clock().UTC()
	sess.IsOpen = false
	sess.CurrentStep = StepCallEnded
	sess.Data.EndedAt = &now
	sess.UpdatedAt = now

	if err := s.repo.Update(ctx, sess); err != nil {
		log.Error("call session finalize failed", "call_sid", providerCallID, "err", err)
	}
	if err := s.cache.Evict(ctx, providerCallID); err != nil {
		log.Warn("call cache evict failed", "call_sid", providerCallID, "err", err)
	}
	log.Info("call session finalized", "call_sid", providerCallID, "steps", len(sess.History))
}

// MarkError flags the session and records an error step in its history.
func (s *Store) MarkError(ctx context.Context, providerCallID string, cause error) {
	if cause == nil {
		return
	}
	unlock := s.locks.lock(providerCallID)
	defer unlock()

	sess := s.findActive(ctx, providerCallID)
	if sess == nil {
		logger.From(ctx).Warn("mark error for unknown call", "call_sid", providerCallID, "err", cause)
		return
	}
	sess.HasError = true
	sess.ErrorMessage = cause.Error()
	s.appendStep(sess, StepEntry{Prompt: cause.Error(), Type: StepError})
	s.save(ctx, sess)
}

// Lookup reads a session straight from storage, bypassing the cache.
func (s *Store) Lookup(ctx context.Context, providerCallID string) (*Session, error) {
	sess, err := s.repo.FindByProviderCallID(ctx, providerCallID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]*Session, error) {
	return s.repo.List(ctx, f)
}

// save persists then refreshes the cache. Failures are logged only.
func (s *Store) save(ctx context.Context, sess *Session) {
	if err := s.repo.Update(ctx, sess); err != nil {
		logger.From(ctx).Error("call session persist failed", "call_sid", sess.ProviderCallID, "err", err)
		return
	}
	if sess.IsOpen {
		s.cachePut(ctx, sess)
	}
}

func (s *Store) cachePut(ctx context.Context, sess *Session) {
	if err := s.cache.Put(ctx, sess); err != nil {
		logger.From(ctx).Warn("call cache write failed", "call_sid", sess.ProviderCallID, "err", err)
	}
}

// keyedMutex serializes work per provider call id. Entries are dropped once
// no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
