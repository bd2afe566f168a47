package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-warden/v1/cache"
	"github.com/mirkobrombin/go-warden/v1/keys"
	"github.com/mirkobrombin/go-warden/v1/lock"
	"github.com/mirkobrombin/go-warden/v1/presets"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	requests    = flag.Int("n", 100000, "Total number of requests")
	dataSize    = flag.Int("d", 256, "Data size in bytes")
	mode        = flag.String("mode", "cache", "What to measure: cache, simple or queued")
	redisAddr   = flag.String("redis", "", "Redis address; in-memory when empty")
	lockTTL     = flag.Duration("ttl", 5*time.Second, "Lock ttl and wait timeout")
)

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: mode %s, %d requests, %d concurrency", *mode, *requests, *concurrency)

	var w *presets.Warden
	opts := presets.RedisOptions{Addr: *redisAddr, RetryInterval: 5 * time.Millisecond}
	if *redisAddr == "" {
		log.Println("Initializing warden (InMemory Standalone)...")
		w = presets.NewInMemoryStandalone(opts)
	} else {
		log.Printf("Initializing warden (Redis %s)...", *redisAddr)
		w = presets.NewRedis(opts)
	}
	defer w.Close()

	ctx := context.Background()
	scope := keys.Scope{TenantID: "bench", ProjectID: "p", UserID: "u"}
	spec := keys.Spec{Key: "bench_key"}
	val := make([]byte, *dataSize)
	for i := 0; i < *dataSize; i++ {
		val[i] = 'x'
	}
	if err := w.Cache.SetPersistent(ctx, spec, scope, nil, string(val), time.Hour); err != nil {
		log.Fatalf("Setup failed: %v", err)
	}

	var op func() error
	switch *mode {
	case "cache":
		op = func() error {
			_, _, err := cache.Get[string](ctx, w.Cache, spec, scope, nil)
			return err
		}
	case "simple", "queued":
		var locker lock.Locker = w.Mutex
		if *mode == "queued" {
			locker = w.Queued
		}
		op = func() error {
			return lock.RunExclusive(ctx, locker, "bench", *lockTTL, func(context.Context) error { return nil })
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	var wg sync.WaitGroup
	var ops int64
	var errorsCount int64

	start := time.Now()

	reqsPerWorker := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				if err := op(); err != nil {
					atomic.AddInt64(&errorsCount, 1)
				}
				atomic.AddInt64(&ops, 1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	throughput := float64(ops) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() / float64(ops) * 1e9 // ns

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f req/s", throughput)
	log.Printf("Avg Latency: %.2f ns", avgLatency)
	if errorsCount > 0 {
		log.Printf("Errors: %d", errorsCount)
	}
}
