package utils

import (
	"os"
	"strconv"
	"time"

	"github.com/marron15/gym-api/config"
)

// CacheLifespan bounds how stale a cached listing may be.
// CACHE_LIFESPAN_SECONDS overrides it (default 5s).
func CacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_SECONDS"))
	if err != nil || lifespan <= 0 {
		lifespan = 5
	}
	return time.Duration(lifespan) * time.Second
}

// CacheList stores a listing under key and records the key in setKey so the
// whole family can be invalidated after a mutation.
func CacheList(setKey string, key string, obj any) error {
	if err := config.SetRedisObject(key, obj, CacheLifespan()); err != nil {
		return err
	}
	return config.AddRedisSet(setKey, key)
}

// InvalidateListCache drops every cached listing recorded under setKey.
// Best effort: cached entries expire on their own TTL anyway.
func InvalidateListCache(setKey string) error {
	members, err := config.GetRedisSetMembers(setKey)
	if err != nil {
		return err
	}
	for _, key := range members {
		if err := config.RemoveRedisKey(key); err != nil {
			return err
		}
	}
	return config.RemoveRedisKey(setKey)
}
