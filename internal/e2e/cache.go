package e2e

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"
)

// KeyCacheTTL is how long a fetched public key is trusted before re-fetch.
const KeyCacheTTL = 24 * time.Hour

// KeyFetcher returns the published base64 SPKI key for a user, or "" if the
// user has never initialised encryption.
type KeyFetcher interface {
	FetchPublicKey(ctx context.Context, userID string) (string, error)
}

type cachedKey struct {
	key       *rsa.PublicKey
	fetchedAt time.Time
}

// KeyCache is a per-process public key cache. Expired entries are never
// served.
type KeyCache struct {
	fetcher KeyFetcher
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cachedKey
}

func NewKeyCache(fetcher KeyFetcher) *KeyCache {
	return &KeyCache{
		fetcher: fetcher,
		ttl:     KeyCacheTTL,
		now:     time.Now,
		entries: make(map[string]cachedKey),
	}
}

// Get returns the public key for userID, or nil if the user has none.
func (c *KeyCache) Get(ctx context.Context, userID string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.key, nil
	}
	if ok {
		delete(c.entries, userID)
	}
	c.mu.Unlock()

	encoded, err := c.fetcher.FetchPublicKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	if encoded == "" {
		return nil, nil
	}
	pub, err := ParsePublicKey(encoded)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[userID] = cachedKey{key: pub, fetchedAt: c.now()}
	c.mu.Unlock()
	return pub, nil
}

// GetAll resolves keys for every user. Users without a published key map to
// nil so EncryptForRecipients can report them.
func (c *KeyCache) GetAll(ctx context.Context, userIDs []string) (map[string]*rsa.PublicKey, error) {
	out := make(map[string]*rsa.PublicKey, len(userIDs))
	for _, id := range userIDs {
		pub, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = pub
	}
	return out, nil
}

func (c *KeyCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}
