package session

import (
	"context"

	"github.com/agentuity/escaperoom/game"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore keeps sessions in redis, msgpack encoded, with native TTL.
type RedisStore struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Store backed by redis.
// The caller owns the redis.Client lifecycle; Close is a no-op on the client.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (s *RedisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *RedisStore) key(id string) string {
	if s.cfg.prefix == "" {
		return id
	}
	return s.cfg.prefix + ":" + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (*game.State, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	data, err := s.client.Get(qctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load session %s", id)
	}
	var state game.State
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrapf(err, "decode session %s", id)
	}
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, state *game.State) error {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "encode session %s", id)
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.client.Set(qctx, s.key(id), data, s.cfg.ttl).Err(); err != nil {
		return errors.Wrapf(err, "save session %s", id)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.client.Del(qctx, s.key(id)).Err(); err != nil {
		return errors.Wrapf(err, "delete session %s", id)
	}
	return nil
}

// Close is a no-op; the caller owns the redis.Client lifecycle.
func (s *RedisStore) Close() error {
	return nil
}
