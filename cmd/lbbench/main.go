// Command lbbench drives synthetic backend heartbeats against a running
// lb instance's --heartbeat-redis-addr subscription, exercising the
// same connection-pool-over-a-single-address pattern redigo is built
// around (as opposed to go-redis's client-per-process model used by
// internal/config.RedisSource). It measures how quickly a pool of
// workers can push PUBLISH-style heartbeat events that an lb instance
// actually consumes and feeds to LoadBalancer.ProcessHeartbeat.
package main

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/gomodule/redigo/redis"
)

func newPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     16,
		MaxActive:   64,
		IdleTimeout: 30 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}
}

// heartbeatMessage builds the "ip:mac:nic" wire format cmd/lb's
// subscriber parses, e.g. "10.0.1.2:aabbccddeeff:1".
func heartbeatMessage(worker int, nic uint16) string {
	ip := fmt.Sprintf("10.0.%d.%d", worker/256, worker%256)
	mac := fmt.Sprintf("02%010x", worker+1)
	return fmt.Sprintf("%s:%s:%d", ip, mac, nic)
}

// publishHeartbeats pushes count synthetic heartbeat events for one
// simulated backend through one pooled connection, returning how many
// succeeded.
func publishHeartbeats(pool *redis.Pool, channel, message string, count int) (int, error) {
	conn := pool.Get()
	defer conn.Close()

	ok := 0
	for i := 0; i < count; i++ {
		if _, err := conn.Do("PUBLISH", channel, message); err != nil {
			return ok, fmt.Errorf("lbbench: publish %d: %w", i, err)
		}
		ok++
	}
	return ok, nil
}

func main() {
	addr := flag.String("redis-addr", "127.0.0.1:6379", "Redis address the target lb reads heartbeats from")
	channel := flag.String("channel", "klint:heartbeats", "pub/sub channel to publish synthetic heartbeats on, matching lb's --heartbeat-channel")
	workers := flag.Int("workers", 8, "number of concurrent publisher connections, each simulating one backend")
	perWorker := flag.Int("count", 1000, "heartbeats published per worker")
	nic := flag.Int("nic", 1, "NIC index the simulated backends are reachable through")
	flag.Parse()

	pool := newPool(*addr)
	defer pool.Close()

	start := time.Now()
	var wg sync.WaitGroup
	results := make([]int, *workers)
	errs := make([]error, *workers)

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			message := heartbeatMessage(i, uint16(*nic))
			results[i], errs[i] = publishHeartbeats(pool, *channel, message, *perWorker)
		}(w)
	}
	wg.Wait()

	total := 0
	for i, err := range errs {
		if err != nil {
			log.Printf("lbbench: worker %d: %v", i, err)
		}
		total += results[i]
	}

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stdout, "published %d heartbeats in %s (%.0f/s)\n", total, elapsed, float64(total)/elapsed.Seconds())
}
