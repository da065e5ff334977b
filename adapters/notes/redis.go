package notes

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sah-anshu/wa2fa-meta/ports"
	"go.uber.org/zap"
)

// RedisProvider backs session notes with a redis hash per session, so OTP
// state follows the login attempt when requests land on different instances
// behind a load balancer. Each hash expires with the session TTL.
//
// Redis errors are logged and surface as missing notes — the OTP manager then
// fails closed (no code means no valid code).
type RedisProvider struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisProvider creates a provider with the given session TTL.
func NewRedisProvider(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisProvider {
	return &RedisProvider{
		client: client,
		prefix: "wa2fa:notes:",
		ttl:    ttl,
		log:    log,
	}
}

// ForSession returns the notes view for a session.
func (p *RedisProvider) ForSession(sessionID string) ports.Notes {
	return &redisNotes{provider: p, key: p.prefix + sessionID}
}

// DropSession removes all notes for a session.
func (p *RedisProvider) DropSession(sessionID string) {
	ctx, cancel := opContext()
	defer cancel()
	if err := p.client.Del(ctx, p.prefix+sessionID).Err(); err != nil {
		p.log.Warn("failed to drop session notes", zap.Error(err))
	}
}

type redisNotes struct {
	provider *RedisProvider
	key      string
}

func (n *redisNotes) Get(key string) string {
	ctx, cancel := opContext()
	defer cancel()
	val, err := n.provider.client.HGet(ctx, n.key, key).Result()
	if err != nil {
		if err != redis.Nil {
			n.provider.log.Warn("redis notes get failed", zap.Error(err))
		}
		return ""
	}
	return val
}

func (n *redisNotes) Set(key, value string) {
	ctx, cancel := opContext()
	defer cancel()
	pipe := n.provider.client.TxPipeline()
	pipe.HSet(ctx, n.key, key, value)
	pipe.Expire(ctx, n.key, n.provider.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		n.provider.log.Warn("redis notes set failed", zap.Error(err))
	}
}

func (n *redisNotes) Remove(key string) {
	ctx, cancel := opContext()
	defer cancel()
	if err := n.provider.client.HDel(ctx, n.key, key).Err(); err != nil {
		n.provider.log.Warn("redis notes remove failed", zap.Error(err))
	}
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
