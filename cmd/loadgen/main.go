// loadgen emits synthetic application log events against the ingest
// endpoint: weighted severity levels, a fixed set of services, and latency
// samples that get worse when things go wrong. It backs off on 429.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/loglens/loglens/internal/model"
)

var services = []string{"auth", "payment", "user", "notification", "database"}

var levels = []struct {
	level  model.Level
	weight int
}{
	{model.LevelInfo, 65},
	{model.LevelWarn, 20},
	{model.LevelError, 10},
	{model.LevelCritical, 5},
}

var errorMessages = []string{
	"Connection timeout",
	"Invalid credentials",
	"Database connection failed",
	"Memory limit exceeded",
	"Null pointer exception",
	"Service unavailable",
	"Rate limit exceeded",
}

var infoMessages = []string{
	"User logged in successfully",
	"Payment processed",
	"Email sent",
	"Cache updated",
	"Request completed",
}

// generator keeps per-service clocks so timestamps never go backwards
// within a service, matching how a real service emits logs.
type generator struct {
	mu     sync.Mutex
	clocks map[string]time.Time
	rng    *rand.Rand
}

func newGenerator() *generator {
	return &generator{
		clocks: make(map[string]time.Time),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *generator) next() model.LogEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	service := services[g.rng.Intn(len(services))]
	now := time.Now().UTC()
	if last, ok := g.clocks[service]; ok && now.Before(last) {
		now = last
	}
	g.clocks[service] = now

	level := pickLevel(g.rng)
	var message string
	var responseMs float64
	if level.IsError() {
		message = errorMessages[g.rng.Intn(len(errorMessages))]
		responseMs = float64(2000 + g.rng.Intn(3001))
	} else {
		message = infoMessages[g.rng.Intn(len(infoMessages))]
		responseMs = float64(50 + g.rng.Intn(451))
	}

	return model.LogEvent{
		ID:             uuid.NewString(),
		Timestamp:      now,
		Service:        service,
		Level:          level,
		Message:        message,
		ResponseTimeMs: responseMs,
		HasLatency:     true,
	}
}

func pickLevel(rng *rand.Rand) model.Level {
	total := 0
	for _, l := range levels {
		total += l.weight
	}
	n := rng.Intn(total)
	for _, l := range levels {
		if n < l.weight {
			return l.level
		}
		n -= l.weight
	}
	return model.LevelInfo
}

func main() {
	target := flag.String("target", "http://localhost:8088/api/v1/ingest", "Ingest endpoint URL")
	rate := flag.Int("rate", 50, "Events per second")
	batch := flag.Int("batch", 10, "Events per request")
	flag.Parse()

	if *rate <= 0 || *batch <= 0 {
		log.Fatal("rate and batch must be positive")
	}

	gen := newGenerator()
	client := &http.Client{Timeout: 5 * time.Second}
	interval := time.Duration(int64(time.Second) * int64(*batch) / int64(*rate))
	if interval <= 0 {
		interval = time.Millisecond
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("loadgen: %d events/s in batches of %d -> %s", *rate, *batch, *target)

	var sent, dropped int64
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-quit:
			log.Printf("loadgen stopping (%v): sent=%d dropped=%d", sig, sent, dropped)
			return
		case <-ticker.C:
			events := make([]model.LogEvent, *batch)
			for i := range events {
				events[i] = gen.next()
			}
			body, err := json.Marshal(events)
			if err != nil {
				log.Fatalf("encode batch: %v", err)
			}

			resp, err := client.Post(*target, "application/json", bytes.NewReader(body))
			if err != nil {
				dropped += int64(len(events))
				log.Printf("post failed: %v", err)
				continue
			}
			switch resp.StatusCode {
			case http.StatusAccepted:
				sent += int64(len(events))
			case http.StatusTooManyRequests:
				// Backpressure: drop the batch, count it, and slow down.
				dropped += int64(len(events))
				time.Sleep(time.Second)
			default:
				dropped += int64(len(events))
				log.Printf("unexpected status: %s", resp.Status)
			}
			_ = resp.Body.Close()
			if sent > 0 && sent%1000 == 0 {
				fmt.Printf("sent=%d dropped=%d\n", sent, dropped)
			}
		}
	}
}
