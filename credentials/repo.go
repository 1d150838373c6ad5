package credentials

import (
	"context"
	"errors"
)

// ErrNoPersistedSession is returned by Repo.Load when no session material
// has been persisted.
var ErrNoPersistedSession = errors.New("no persisted session")

// PersistedSession is the durable subset of the session: the two
// credentials plus the serialized principal. Pending second-factor state
// is deliberately excluded.
type PersistedSession struct {
	AccessToken  string
	RefreshToken string
	Principal    Principal
}

// Repo persists session material across process restarts. Implementations
// store the three fields under independent keys and clear them together.
type Repo interface {
	Save(ctx context.Context, session PersistedSession) error
	Load(ctx context.Context) (*PersistedSession, error)
	Delete(ctx context.Context) error
}
