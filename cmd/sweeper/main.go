package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebloc/slot-lease-service/internal/config"
	"github.com/carebloc/slot-lease-service/internal/lease"
	redisclient "github.com/carebloc/slot-lease-service/internal/redis"
)

// The sweeper is pure storage hygiene. Conflict checks already skip
// expired leases and every key carries a TTL backstop, so this process can
// be down for hours without affecting correctness.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("sweeper starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running sweeper in env=%s interval=%s", cfg.Env, cfg.SweepInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	svc := lease.NewService(lease.NewRedisStore(rdb), lease.NoopRecorder{}, cfg.LeaseTTL)

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *lease.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	purged, err := svc.Sweep(runCtx)
	if err != nil {
		log.Printf("sweep error: %v", err)
		return
	}
	log.Printf("sweep complete purged=%d duration=%s", purged, time.Since(start))
}
