// Package keydir is the server-side directory of published identity keys.
package keydir

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/e2e"
	"github.com/pliu/sealchat/internal/store"
)

const (
	// CacheTTL matches the client-side key cache.
	CacheTTL = e2e.KeyCacheTTL

	cachePrefix = "keydir:pub:"
)

// Directory publishes and serves public keys. Redis is an optional
// read-through cache; when it is unavailable lookups go to the store.
type Directory struct {
	store store.Store
	rdb   *redis.Client
	log   logrus.FieldLogger
}

func New(st store.Store, rdb *redis.Client, log logrus.FieldLogger) *Directory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Directory{store: st, rdb: rdb, log: log}
}

// Publish validates and stores userID's public key, replacing any earlier
// one.
func (d *Directory) Publish(ctx context.Context, userID, publicKey string) error {
	if _, err := e2e.ParsePublicKey(publicKey); err != nil {
		return err
	}
	if err := d.store.SetPublicKey(ctx, userID, publicKey); err != nil {
		return err
	}
	if d.rdb != nil {
		if err := d.rdb.Del(ctx, cachePrefix+userID).Err(); err != nil {
			d.log.WithField("user_id", userID).WithError(err).Warn("Failed to invalidate cached public key")
		}
	}
	return nil
}

// FetchPublicKey returns userID's published key, or "" if none was
// published. Unknown users are NotFound.
func (d *Directory) FetchPublicKey(ctx context.Context, userID string) (string, error) {
	if d.rdb != nil {
		key, err := d.rdb.Get(ctx, cachePrefix+userID).Result()
		switch {
		case err == nil:
			return key, nil
		case !errors.Is(err, redis.Nil):
			d.log.WithField("user_id", userID).WithError(err).Debug("Key cache unavailable")
		}
	}

	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.PublicKey != "" && d.rdb != nil {
		if err := d.rdb.Set(ctx, cachePrefix+userID, user.PublicKey, CacheTTL).Err(); err != nil {
			d.log.WithField("user_id", userID).WithError(err).Debug("Failed to cache public key")
		}
	}
	return user.PublicKey, nil
}

// Ping reports whether the cache is reachable. A directory without a cache
// is always healthy.
func (d *Directory) Ping(ctx context.Context) error {
	if d.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return d.rdb.Ping(ctx).Err()
}
