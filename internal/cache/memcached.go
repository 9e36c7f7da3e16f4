package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/propstream/listing-scrape-worker/config"
)

// SeenClient is the cross-run seen filter: dedup keys of listings emitted by
// earlier runs, shared between worker instances through memcached.
type SeenClient interface {
	Seen(key string) bool
	MarkSeen(key string)
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	log    *slog.Logger
}

func NewMemcachedClient(cacheConfig *config.CacheConfig, log *slog.Logger) *MemcachedClient {
	log.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	servers := strings.Split(cacheConfig.Servers, ",")
	err := ss.SetServers(servers...)
	if err != nil {
		log.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
		log:    log,
	}
	c.log.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		log.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c.log.Info("connected to memcached!")

	return c
}

// Seen reports whether the dedup key was marked by a previous run. Any cache
// error is treated as "not seen" so a flaky cache only costs duplicate emits,
// never lost listings.
func (mc *MemcachedClient) Seen(key string) bool {
	_, err := mc.client.Get(hashKey(key))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Warn("failed to check the seen filter.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return false
	}
	return true
}

func (mc *MemcachedClient) MarkSeen(key string) {
	item := &memcache.Item{
		Key:        hashKey(key),
		Value:      []byte{1},
		Expiration: int32(mc.cfg.TtlForSeen.Seconds()),
	}
	if err := mc.client.Set(item); err != nil {
		mc.log.Warn("failed to mark the key as seen.", slog.String("key", key),
			slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) Close() {
	mc.log.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		mc.log.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func hashKey(key string) string {
	hash := sha256.New()
	hash.Write([]byte("listing-seen-" + key))
	return hex.EncodeToString(hash.Sum(nil))
}
