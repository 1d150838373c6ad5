// Package redisrepo persists session credentials in Redis so a session
// survives process restarts.
package redisrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostpanel/panelclient/credentials"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Repo stores the access token, refresh token and serialized principal
// under three independent keys below a common prefix. All three are
// written and cleared together.
type Repo struct {
	client *redis.Client
	prefix string
}

var _ credentials.Repo = (*Repo)(nil)

// New creates a Repo with the given key prefix, e.g. "panelclient:session".
func New(client *redis.Client, prefix string) (*Repo, error) {
	if client == nil {
		return nil, errors.New("[redisrepo.New] client is required")
	}
	if prefix == "" {
		return nil, errors.New("[redisrepo.New] prefix is required")
	}
	return &Repo{client: client, prefix: prefix}, nil
}

func (r *Repo) accessKey() string    { return fmt.Sprintf("%s:access_token", r.prefix) }
func (r *Repo) refreshKey() string   { return fmt.Sprintf("%s:refresh_token", r.prefix) }
func (r *Repo) principalKey() string { return fmt.Sprintf("%s:principal", r.prefix) }

// Save writes all three keys in one round trip. No TTL is applied; the
// server-side expiry of the tokens governs their usefulness.
func (r *Repo) Save(ctx context.Context, session credentials.PersistedSession) error {
	principalJSON, err := json.Marshal(session.Principal)
	if err != nil {
		return errors.Wrap(err, "[redisrepo.Save] marshal principal")
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.accessKey(), session.AccessToken, 0)
	pipe.Set(ctx, r.refreshKey(), session.RefreshToken, 0)
	pipe.Set(ctx, r.principalKey(), principalJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "[redisrepo.Save] pipeline exec")
	}
	return nil
}

// Load reads the persisted session. A missing access token means no
// session is persisted, regardless of the other keys.
func (r *Repo) Load(ctx context.Context) (*credentials.PersistedSession, error) {
	accessToken, err := r.client.Get(ctx, r.accessKey()).Result()
	if err == redis.Nil {
		return nil, credentials.ErrNoPersistedSession
	}
	if err != nil {
		return nil, errors.Wrap(err, "[redisrepo.Load] get access token")
	}

	refreshToken, err := r.client.Get(ctx, r.refreshKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "[redisrepo.Load] get refresh token")
	}

	principalJSON, err := r.client.Get(ctx, r.principalKey()).Result()
	if err == redis.Nil {
		return nil, credentials.ErrNoPersistedSession
	}
	if err != nil {
		return nil, errors.Wrap(err, "[redisrepo.Load] get principal")
	}

	var principal credentials.Principal
	if err := json.Unmarshal([]byte(principalJSON), &principal); err != nil {
		return nil, errors.Wrap(err, "[redisrepo.Load] unmarshal principal")
	}

	return &credentials.PersistedSession{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Principal:    principal,
	}, nil
}

// Delete removes all three keys together.
func (r *Repo) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.accessKey(), r.refreshKey(), r.principalKey()).Err(); err != nil {
		return errors.Wrap(err, "[redisrepo.Delete] del keys")
	}
	return nil
}
