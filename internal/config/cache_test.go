package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheMissInitially(t *testing.T) {
	c := newTTLCache(time.Second)
	_, ok := c.get("name")
	require.False(t, ok)
}

func TestTTLCachePutThenGetHits(t *testing.T) {
	c := newTTLCache(time.Hour)
	c.put("flow cap", "1024")
	v, ok := c.get("flow cap")
	require.True(t, ok)
	require.Equal(t, "1024", v)
}

func TestTTLCacheExpires(t *testing.T) {
	c := newTTLCache(time.Nanosecond)
	c.put("flow cap", "1024")
	time.Sleep(20 * time.Millisecond)
	_, ok := c.get("flow cap")
	require.False(t, ok)
}
