// Package cache provides a Redis-backed response cache for ET API requests.
//
// Successful responses are stored under a key derived from the endpoint and
// a hash of the JSON request body, so re-running a fetch over the same fields
// and request specs does not hit the remote service again while the entry is
// fresh.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.Key{Endpoint: endpoint, Payload: body}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then
//		_ = manager.Set(ctx, key, cache.NewEntry(200, header, data, manager.TTL()))
//	}
//
// # Metrics
//
//   - et_cache_hits_total
//   - et_cache_misses_total
//   - et_cache_errors_total{operation}
package cache
