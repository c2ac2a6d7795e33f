package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "session:"

// RedisSessions stores backend session tokens in Redis with a sliding
// TTL. A lookup refreshes the TTL so the backend lifetime tracks use.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessions connects to Redis and verifies the connection.
func NewRedisSessions(redisURL string, ttl time.Duration) (*RedisSessions, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisSessions{client: client, ttl: ttl}, nil
}

// NewRedisSessionsWithClient wraps an existing client (tests).
func NewRedisSessionsWithClient(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{client: client, ttl: ttl}
}

type sessionRecord struct {
	IdentityID string    `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Save stores a session under its token.
func (s *RedisSessions) Save(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sessionRecord{IdentityID: sess.IdentityID, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := s.ttl
	if !sess.ExpiresAt.IsZero() {
		if until := time.Until(sess.ExpiresAt); until > 0 {
			ttl = until
		}
	}
	if err := s.client.Set(ctx, sessionPrefix+sess.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup resolves a token to a session and slides its TTL forward.
// Missing or expired tokens return (nil, nil).
func (s *RedisSessions) Lookup(ctx context.Context, token string) (*Session, error) {
	key := sessionPrefix + token
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("refresh session ttl: %w", err)
	}

	return &Session{Token: token, IdentityID: rec.IdentityID, ExpiresAt: time.Now().Add(s.ttl)}, nil
}

// Revoke deletes a session token. Revoking an absent token is a no-op.
func (s *RedisSessions) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSessions) Close() error {
	return s.client.Close()
}

// RedisBroker is the realtime push transport, backed by Redis pub/sub.
// Each Subscribe opens one pub/sub connection scoped to one channel.
type RedisBroker struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisBroker(client *redis.Client, log *slog.Logger) *RedisBroker {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroker{client: client, log: log}
}

// NewRedisBrokerURL connects a broker to the given Redis URL.
func NewRedisBrokerURL(redisURL string, log *slog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBroker(redis.NewClient(opts), log), nil
}

// Subscribe delivers events published on channel until the cancel func is
// called. Decode failures are logged and the frame dropped; a broken
// channel stops delivering without crashing the client.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("dropping undecodable realtime frame", "channel", channel, "error", err)
				continue
			}
			h(ev)
		}
	}()

	return func() { _ = ps.Close() }, nil
}

// Publish pushes an event to every subscriber of channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
