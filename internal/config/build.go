package config

import (
	"time"

	"github.com/go-redis/redis/v8"
)

// defaultRefresh bounds how stale a RedisSource's cached value may be.
const defaultRefresh = 2 * time.Second

// Build returns an EnvSource, or a RedisSource falling back to EnvSource
// when redisAddr is non-empty, the construction every cmd/ program's
// main does identically after parsing its --redis-addr flag.
func Build(redisAddr string) Source {
	env := EnvSource{}
	if redisAddr == "" {
		return env
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return NewRedisSource(client, env, defaultRefresh)
}
