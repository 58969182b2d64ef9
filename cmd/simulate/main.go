package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/carebloc/slot-lease-service/client"
	"github.com/carebloc/slot-lease-service/internal/lease"
)

// simulate drives concurrent booking sessions against a running lease
// service. Many sessions contend over a small provider pool on purpose, so
// conflicts are expected and counted, not errors.

type simMetrics struct {
	Acquired  int64
	Conflicts int64
	Lost      int64
	Released  int64
	Errors    int64
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "lease service base URL")
		workers  = flag.Int("workers", 20, "concurrent booking sessions")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		renewal  = flag.Duration("renew", 2*time.Second, "agent renewal interval")
		provs    = flag.Int("providers", 4, "size of the contended provider pool")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	gofakeit.Seed(time.Now().UnixNano())

	tenantID := uuid.NewString()
	providers := make([]string, *provs)
	clinics := make([]string, *provs)
	for i := range providers {
		providers[i] = uuid.NewString()
		clinics[i] = uuid.NewString()
		log.Printf("provider %s (%s) at clinic %s", providers[i][:8], gofakeit.Name(), clinics[i][:8])
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithTimeout(rootCtx, *duration)
	defer cancel()

	var m simMetrics
	var wg sync.WaitGroup

	log.Printf("starting %d booking sessions against %s tenant=%s", *workers, *baseURL, tenantID[:8])

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSession(runCtx, *baseURL, tenantID, providers, clinics, *renewal, &m)
		}()
	}

	wg.Wait()

	fmt.Println("\n--- simulation results ---")
	fmt.Printf("acquired:  %d\n", atomic.LoadInt64(&m.Acquired))
	fmt.Printf("conflicts: %d\n", atomic.LoadInt64(&m.Conflicts))
	fmt.Printf("lost:      %d\n", atomic.LoadInt64(&m.Lost))
	fmt.Printf("released:  %d\n", atomic.LoadInt64(&m.Released))
	fmt.Printf("errors:    %d\n", atomic.LoadInt64(&m.Errors))
}

// runSession models one browser tab: pick a slot, hold it for a while
// renewing in the background, then either complete or abandon, repeat.
func runSession(ctx context.Context, baseURL, tenantID string, providers, clinics []string, renewal time.Duration, m *simMetrics) {
	sessionID := uuid.NewString()
	c := client.New(baseURL, tenantID)
	agent := client.NewAgent(c, sessionID,
		client.WithRenewInterval(renewal),
		client.WithLeaseLostHandler(func(string) {
			atomic.AddInt64(&m.Lost, 1)
		}),
	)
	defer agent.Close()

	patientID := uuid.NewString()

	// Providers publish half-hour slots over the same working day, so
	// sessions frequently go after overlapping ranges.
	day := time.Now().Unix()

	for ctx.Err() == nil {
		idx := rand.Intn(len(providers))
		slotIdx := int64(rand.Intn(16))
		slot := client.Slot{
			OwnerUserID: providers[idx],
			ClinicID:    clinics[idx],
			Start:       day + slotIdx*1800,
			End:         day + (slotIdx+1)*1800,
			PatientID:   patientID,
		}

		_, err := agent.Select(ctx, slot)
		switch {
		case err == nil:
			atomic.AddInt64(&m.Acquired, 1)
		case errors.Is(err, lease.ErrSlotConflict):
			atomic.AddInt64(&m.Conflicts, 1)
		case ctx.Err() != nil:
			return
		default:
			atomic.AddInt64(&m.Errors, 1)
		}

		// Hold the selection across a couple of renewals, the way a user
		// would sit on a booking form.
		hold := time.Duration(rand.Intn(3000)+500) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(hold):
		}

		if err == nil {
			if rand.Intn(2) == 0 {
				agent.Complete(ctx)
			} else {
				agent.Cancel(ctx)
			}
			atomic.AddInt64(&m.Released, 1)
		}
	}
}
