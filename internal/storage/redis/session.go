// Package redis provides a checkout session store backed by Redis, letting
// several storefront instances share checkout views.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/checkout"
)

const keyPrefix = "checkout:session:"

var _ checkout.Store = (*SessionStore)(nil)

// SessionStore stores each session as a JSON value with a TTL that is
// refreshed on every update.
type SessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSessionStore returns a SessionStore using client. A zero ttl stores
// sessions without expiry.
func NewSessionStore(client redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// NewClient creates a Redis client for addr.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping checks connectivity, for readiness probes.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Create(ctx context.Context, sess *checkout.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}

	ok, err := s.client.SetNX(ctx, key(sess.ID), data, s.ttl).Result()
	if err != nil {
		return errors.Wrapf(err, "create session %q", sess.ID)
	}
	if !ok {
		return errors.Errorf("session %q already exists", sess.ID)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*checkout.Session, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, checkout.ErrSessionNotFound
		}
		return nil, errors.Wrapf(err, "get session %q", id)
	}

	var sess checkout.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errors.Wrapf(err, "unmarshal session %q", id)
	}
	return &sess, nil
}

func (s *SessionStore) Update(ctx context.Context, sess *checkout.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}

	ok, err := s.client.SetXX(ctx, key(sess.ID), data, s.ttl).Result()
	if err != nil {
		return errors.Wrapf(err, "update session %q", sess.ID)
	}
	if !ok {
		return checkout.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, key(id)).Result()
	if err != nil {
		return errors.Wrapf(err, "delete session %q", id)
	}
	if n == 0 {
		return checkout.ErrSessionNotFound
	}
	return nil
}

func key(id string) string {
	return keyPrefix + id
}
