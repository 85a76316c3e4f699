// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/dummyapi/core/logger"
)

// RedisTokenCache is a token cache shared by all instances of the service.
//
// Every token is stored under "{prefix}token:{token}", the reverse mapping
// under "{prefix}tenant:{id}". Redis failures are logged and treated as cache
// misses; the repository stays the source of truth.
//
// Add is a compare-and-set script, so a resolution racing with a rotation in
// another process cannot put the retired token back. Other processes see the
// new token as soon as the swap transaction is committed.
type RedisTokenCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTokenCache creates a token cache on client. A ttl of zero means entries never expire.
func NewRedisTokenCache(client *redis.Client, prefix string, ttl time.Duration) *RedisTokenCache {
	return &RedisTokenCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisTokenCache) tokenKey(token string) string {
	return c.prefix + "token:" + token
}

func (c *RedisTokenCache) tenantKey(tenantID int64) string {
	return c.prefix + "tenant:" + strconv.FormatInt(tenantID, 10)
}

// Get implements TokenCache
func (c *RedisTokenCache) Get(ctx context.Context, token string) (int64, bool) {
	value, err := c.client.Get(ctx, c.tokenKey(token)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot read token cache")
		return 0, false
	}
	tenantID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return tenantID, true
}

// addScript sets the token unless the tenant already has another one.
// KEYS: token key, tenant key. ARGV: token, tenant id, ttl in milliseconds.
var addScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2])
if current and current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
	redis.call("SET", KEYS[2], ARGV[1])
end
return 1
`)

// forgetScript deletes a token and the reverse mapping if it still points to it.
// KEYS: token key. ARGV: tenant key prefix, token.
var forgetScript = redis.NewScript(`
local tenant = redis.call("GET", KEYS[1])
redis.call("DEL", KEYS[1])
if tenant then
	local tenantKey = ARGV[1] .. tenant
	if redis.call("GET", tenantKey) == ARGV[2] then
		redis.call("DEL", tenantKey)
	end
end
return 1
`)

// Add implements TokenCache
func (c *RedisTokenCache) Add(ctx context.Context, token string, tenantID int64) bool {
	keys := []string{c.tokenKey(token), c.tenantKey(tenantID)}
	added, err := addScript.Run(ctx, c.client, keys, token, tenantID, c.ttl.Milliseconds()).Int()
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot write token cache")
		return false
	}
	return added == 1
}

// Forget implements TokenCache
func (c *RedisTokenCache) Forget(ctx context.Context, token string) {
	err := forgetScript.Run(ctx, c.client, []string{c.tokenKey(token)}, c.prefix+"tenant:", token).Err()
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot forget token")
		// a cached token must never outlive its rotation
		c.client.Del(ctx, c.tokenKey(token))
	}
}

// Swap implements TokenCache
func (c *RedisTokenCache) Swap(ctx context.Context, oldToken, newToken string, tenantID int64) {
	previous, err := c.client.Get(ctx, c.tenantKey(tenantID)).Result()
	if err != nil && err != redis.Nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot read token cache")
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if oldToken != "" {
			pipe.Del(ctx, c.tokenKey(oldToken))
		}
		if previous != "" && previous != newToken {
			pipe.Del(ctx, c.tokenKey(previous))
		}
		pipe.Set(ctx, c.tokenKey(newToken), tenantID, c.ttl)
		pipe.Set(ctx, c.tenantKey(tenantID), newToken, c.ttl)
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot write token cache")
		// never leave the old token resolvable
		if oldToken != "" {
			c.client.Del(ctx, c.tokenKey(oldToken))
		}
	}
}

// Evict implements TokenCache
func (c *RedisTokenCache) Evict(ctx context.Context, tenantID int64) {
	token, err := c.client.Get(ctx, c.tenantKey(tenantID)).Result()
	if err != nil && err != redis.Nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot read token cache")
	}
	keys := []string{c.tenantKey(tenantID)}
	if token != "" {
		keys = append(keys, c.tokenKey(token))
	}
	if err = c.client.Del(ctx, keys...).Err(); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot evict token cache")
	}
}
