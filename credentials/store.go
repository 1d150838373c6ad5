package credentials

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ChangeHandler is invoked synchronously after every mutation of the
// store, with a snapshot of the new state.
type ChangeHandler func(Session)

// Store owns the current session. It is the single writer of credential
// state: every other component reads snapshots via Get or listens via
// OnChange, and mutations go through Store methods only.
//
// Persistence is best effort. A repo failure is logged and does not fail
// the in-memory mutation; the in-memory session is the source of truth for
// the running process.
type Store struct {
	mu       sync.RWMutex
	session  Session
	repo     Repo
	handlers []ChangeHandler
}

// NewStore creates a Store backed by the given persistence repo.
func NewStore(repo Repo) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] repo is required")
	}
	return &Store{repo: repo}, nil
}

// Get returns a read-only snapshot of the current session.
func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.clone()
}

// Set replaces the access credential, refresh credential and principal
// atomically, discards any pending second-factor state, persists the new
// session and notifies subscribers.
func (s *Store) Set(ctx context.Context, accessToken, refreshToken string, principal Principal) {
	s.mu.Lock()
	p := principal
	s.session = Session{
		Principal:    &p,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	snapshot := s.session.clone()
	s.mu.Unlock()

	if err := s.repo.Save(ctx, PersistedSession{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Principal:    principal,
	}); err != nil {
		log.Warn().Err(err).Msg("credential persistence failed, in-memory session remains authoritative")
	}
	s.notify(snapshot)
}

// SetPrincipal replaces the stored principal wholesale, keeping the
// current credentials. No-op on an unauthenticated session.
func (s *Store) SetPrincipal(ctx context.Context, principal Principal) {
	s.mu.Lock()
	if s.session.AccessToken == "" {
		s.mu.Unlock()
		return
	}
	p := principal
	s.session.Principal = &p
	snapshot := s.session.clone()
	s.mu.Unlock()

	if err := s.repo.Save(ctx, PersistedSession{
		AccessToken:  snapshot.AccessToken,
		RefreshToken: snapshot.RefreshToken,
		Principal:    principal,
	}); err != nil {
		log.Warn().Err(err).Msg("credential persistence failed, in-memory session remains authoritative")
	}
	s.notify(snapshot)
}

// SetPendingSecondFactor records a second-factor challenge issued by the
// server. The durable session stays untouched and nothing is persisted.
func (s *Store) SetPendingSecondFactor(tempToken string) {
	s.mu.Lock()
	s.session.Pending = &SecondFactorChallenge{TempToken: tempToken, Required: true}
	snapshot := s.session.clone()
	s.mu.Unlock()
	s.notify(snapshot)
}

// Clear empties the session, removes the persisted copies and notifies
// subscribers. The in-memory clear happens before the repo delete so that
// observers never see stale credentials.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.session = Session{}
	s.mu.Unlock()

	if err := s.repo.Delete(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to remove persisted credentials")
	}
	s.notify(Session{})
}

// Restore loads any persisted session into memory without contacting the
// server. It returns whether a persisted session was found. Restoring is
// idempotent: repeated calls without an intervening Set or Clear yield the
// same snapshot.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	persisted, err := s.repo.Load(ctx)
	if errors.Is(err, ErrNoPersistedSession) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "[Store.Restore] repo.Load")
	}

	s.mu.Lock()
	p := persisted.Principal
	s.session = Session{
		Principal:    &p,
		AccessToken:  persisted.AccessToken,
		RefreshToken: persisted.RefreshToken,
	}
	snapshot := s.session.clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return true, nil
}

// OnChange registers a handler invoked synchronously after every Set,
// SetPrincipal, SetPendingSecondFactor, Clear and successful Restore.
func (s *Store) OnChange(handler ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *Store) notify(snapshot Session) {
	s.mu.RLock()
	handlers := make([]ChangeHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(snapshot)
	}
}
