package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps the session in a Redis key and announces every write on the
// "<key>:events" channel. Each store tags its announcements with a writer id so it
// can skip its own.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	writer string
	now    func() time.Time
	logger *slog.Logger
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	Client redis.UniversalClient
	// Key defaults to DefaultKey.
	Key    string
	Logger *slog.Logger
}

// envelope is the pub/sub payload. Value is null when the key was cleared.
type envelope struct {
	Writer string          `json:"writer"`
	Value  json.RawMessage `json:"value"`
}

// NewRedisStore returns a store with a fresh writer id.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: opts.Client,
		key:    opts.Key,
		writer: uuid.NewString(),
		now:    time.Now,
		logger: logger.With("component", "token_store", "store", "redis"),
	}, nil
}

func (r *RedisStore) channel() string { return r.key + ":events" }

func (r *RedisStore) Save(ctx context.Context, sess domainauth.Session) error {
	data, err := domainauth.EncodeSession(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var ttl time.Duration
	if sess.ExpiresAt != nil {
		ttl = sess.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return r.Clear(ctx)
		}
	}

	msg, err := json.Marshal(envelope{Writer: r.writer, Value: data})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis save token: %w", err)
	}
	return r.publish(ctx, msg)
}

func (r *RedisStore) Load(ctx context.Context) (*domainauth.Session, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load token: %w", err)
	}
	sess, err := domainauth.DecodeSession(data)
	if errors.Is(err, domainauth.ErrEmptySession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}
	return sess, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	msg, err := json.Marshal(envelope{Writer: r.writer, Value: json.RawMessage("null")})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis clear token: %w", err)
	}
	return r.publish(ctx, msg)
}

// publish announces a write after the key holds the new value, so a subscriber
// that reloads on the event reads what was announced or something newer.
func (r *RedisStore) publish(ctx context.Context, msg []byte) error {
	if err := r.client.Publish(ctx, r.channel(), msg).Err(); err != nil {
		return fmt.Errorf("redis publish token event: %w", err)
	}
	return nil
}

// Subscribe listens on the events channel until ctx ends. The subscription is
// confirmed before Subscribe returns, so no later write is missed.
func (r *RedisStore) Subscribe(ctx context.Context) (<-chan ports.StorageEvent, error) {
	pubsub := r.client.Subscribe(ctx, r.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	msgs := pubsub.Channel()
	out := make(chan ports.StorageEvent, eventBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				ev, mine, err := r.decodeEvent(m.Payload)
				if err != nil {
					r.logger.WarnContext(ctx, "ignoring malformed token event", "error", err)
					continue
				}
				if mine {
					continue
				}
				if !send(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisStore) decodeEvent(payload string) (ports.StorageEvent, bool, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return ports.StorageEvent{}, false, err
	}
	if env.Writer == r.writer {
		return ports.StorageEvent{}, true, nil
	}
	ev := ports.StorageEvent{Key: r.key}
	if len(env.Value) == 0 || string(env.Value) == "null" {
		return ev, false, nil
	}
	sess, err := domainauth.DecodeSession(env.Value)
	if err != nil {
		return ports.StorageEvent{}, false, err
	}
	ev.NewValue = sess
	return ev, false, nil
}
