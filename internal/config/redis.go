package config

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisSource is the live control-plane configuration path: values live
// under "klint:config:<name>" keys in Redis, letting an operator set a
// flow-table size or backend-expiration window centrally instead of in
// each process's environment. A lookup made after the cache window sees
// a newly pushed value; the NFs in cmd/ read their configuration only
// once, in Init, so a running NF does not pick up a change until it
// restarts. Lookups are memoized in a short-lived ttlCache so the
// data-plane never pays a Redis round trip per packet.
type RedisSource struct {
	client   *redis.Client
	fallback Source
	cache    *ttlCache
}

// NewRedisSource builds a RedisSource against client. fallback is
// consulted (and never cached) whenever the Redis lookup fails, whether
// the key is absent or Redis cannot be reached, typically
// an EnvSource for values an operator hasn't pushed yet. refresh bounds
// how stale a cached value may be before the next lookup re-reads Redis.
func NewRedisSource(client *redis.Client, fallback Source, refresh time.Duration) *RedisSource {
	return &RedisSource{client: client, fallback: fallback, cache: newTTLCache(refresh)}
}

func redisKey(name string) string { return "klint:config:" + name }

func (s *RedisSource) fetch(name string) (string, error) {
	if v, ok := s.cache.get(name); ok {
		return v, nil
	}
	v, err := s.client.Get(context.Background(), redisKey(name)).Result()
	if err != nil {
		return "", &ErrNotFound{Name: name}
	}
	s.cache.put(name, v)
	return v, nil
}

func (s *RedisSource) GetU16(name string) (uint16, error) {
	v, err := s.fetch(name)
	if err != nil {
		return s.fallback.GetU16(name)
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

func (s *RedisSource) GetU32(name string) (uint32, error) {
	v, err := s.fetch(name)
	if err != nil {
		return s.fallback.GetU32(name)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (s *RedisSource) GetU64(name string) (uint64, error) {
	v, err := s.fetch(name)
	if err != nil {
		return s.fallback.GetU64(name)
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisSource) GetTime(name string) (time.Duration, error) {
	v, err := s.fetch(name)
	if err != nil {
		return s.fallback.GetTime(name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n), nil
}

func (s *RedisSource) GetSize(name string) (uint64, error) {
	v, err := s.fetch(name)
	if err != nil {
		return s.fallback.GetSize(name)
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisSource) GetDevice(name string, deviceCount int) (int, error) {
	v, err := s.fetch(name)
	if err != nil {
		return s.fallback.GetDevice(name, deviceCount)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return validateDevice(name, n, deviceCount)
}
