package fakecredentialrepo

import (
	"context"
	"sync"

	"github.com/hostpanel/panelclient/credentials"
)

var _ credentials.Repo = (*FakeCredentialRepo)(nil)

// FakeCredentialRepo is an in-memory credentials.Repo for tests. SaveErr,
// LoadErr and DeleteErr can be set to force failures.
type FakeCredentialRepo struct {
	lock      sync.RWMutex
	persisted *credentials.PersistedSession

	SaveErr   error
	LoadErr   error
	DeleteErr error

	SaveCalls   int
	DeleteCalls int
}

func NewFakeCredentialRepo() *FakeCredentialRepo {
	return &FakeCredentialRepo{}
}

func (r *FakeCredentialRepo) Save(_ context.Context, session credentials.PersistedSession) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.SaveCalls++
	if r.SaveErr != nil {
		return r.SaveErr
	}
	s := session
	r.persisted = &s
	return nil
}

func (r *FakeCredentialRepo) Load(_ context.Context) (*credentials.PersistedSession, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.LoadErr != nil {
		return nil, r.LoadErr
	}
	if r.persisted == nil {
		return nil, credentials.ErrNoPersistedSession
	}
	s := *r.persisted
	return &s, nil
}

func (r *FakeCredentialRepo) Delete(_ context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.DeleteCalls++
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	r.persisted = nil
	return nil
}
