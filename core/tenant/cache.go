// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTokenCacheSize is the number of tenants a MemoryTokenCache holds
const DefaultTokenCacheSize = 10000

// TokenCache caches the mapping of access tokens to tenant ids.
//
// A cache holds at most one token per tenant. A cache may be shared by
// several registries, even across processes, therefore Add never replaces
// the cached token of a tenant: only Swap and Evict, which follow the
// repository, may do that.
type TokenCache interface {
	Get(ctx context.Context, token string) (int64, bool)
	// Add caches token for tenantID unless the cache already holds another
	// token of the tenant. It returns false if the token was not added.
	Add(ctx context.Context, token string, tenantID int64) bool
	// Swap evicts oldToken and makes newToken resolve to tenantID in one step
	Swap(ctx context.Context, oldToken, newToken string, tenantID int64)
	// Forget drops token, leaving any other token of its tenant in place
	Forget(ctx context.Context, token string)
	// Evict drops any token of the tenant
	Evict(ctx context.Context, tenantID int64)
}

// MemoryTokenCache is an in-process token cache on two expirable LRUs, one
// per direction of the mapping
type MemoryTokenCache struct {
	mutex    sync.Mutex
	tokens   *expirable.LRU[string, int64]
	byTenant *expirable.LRU[int64, string]
}

// NewMemoryTokenCache creates a new in-process token cache for up to
// DefaultTokenCacheSize tenants. A ttl of zero means entries never expire.
func NewMemoryTokenCache(ttl time.Duration) *MemoryTokenCache {
	return NewMemoryTokenCacheWithSize(DefaultTokenCacheSize, ttl)
}

// NewMemoryTokenCacheWithSize creates a new in-process token cache for up to
// size tenants. The least recently used tenants are dropped first.
func NewMemoryTokenCacheWithSize(size int, ttl time.Duration) *MemoryTokenCache {
	return &MemoryTokenCache{
		tokens:   expirable.NewLRU[string, int64](size, nil, ttl),
		byTenant: expirable.NewLRU[int64, string](size, nil, ttl),
	}
}

// Get implements TokenCache
func (c *MemoryTokenCache) Get(ctx context.Context, token string) (int64, bool) {
	return c.tokens.Get(token)
}

// Add implements TokenCache
func (c *MemoryTokenCache) Add(ctx context.Context, token string, tenantID int64) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if current, ok := c.byTenant.Peek(tenantID); ok && current != token {
		if _, live := c.tokens.Peek(current); live {
			return false
		}
	}
	c.tokens.Add(token, tenantID)
	c.byTenant.Add(tenantID, token)
	return true
}

// Swap implements TokenCache
func (c *MemoryTokenCache) Swap(ctx context.Context, oldToken, newToken string, tenantID int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.tokens.Remove(oldToken)
	if current, ok := c.byTenant.Peek(tenantID); ok {
		c.tokens.Remove(current)
	}
	c.tokens.Add(newToken, tenantID)
	c.byTenant.Add(tenantID, newToken)
}

// Forget implements TokenCache
func (c *MemoryTokenCache) Forget(ctx context.Context, token string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	tenantID, ok := c.tokens.Peek(token)
	c.tokens.Remove(token)
	if ok {
		if current, found := c.byTenant.Peek(tenantID); found && current == token {
			c.byTenant.Remove(tenantID)
		}
	}
}

// Evict implements TokenCache
func (c *MemoryTokenCache) Evict(ctx context.Context, tenantID int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if token, ok := c.byTenant.Peek(tenantID); ok {
		c.tokens.Remove(token)
	}
	c.byTenant.Remove(tenantID)
}

// Len returns the number of cached tokens, including expired ones which
// have not been cleaned up yet
func (c *MemoryTokenCache) Len() int {
	return c.tokens.Len()
}
