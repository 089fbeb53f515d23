// Package idempotency deduplicates client retries of a mutating request.
//
// The guard is process-local by design: cache and in-flight set live in this
// process only, so running several instances behind a load balancer dedups
// per instance, not globally. It is constructed in main and injected, so a
// shared-store implementation can replace it later without touching call
// sites.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDuplicateRequest is returned when a request arrives while another
// request with the same key is still executing.
var ErrDuplicateRequest = errors.New("a request with this idempotency key is already in progress")

// Response is the captured outcome of the wrapped operation: whatever HTTP
// status and body it produced, replayed verbatim on a cache hit.
type Response struct {
	Status int
	Body   []byte
}

type cachedResponse struct {
	response   Response
	capturedAt time.Time
}

// Guard caches responses per idempotency key and rejects concurrent requests
// sharing a key while the first is in flight.
type Guard struct {
	mu       sync.Mutex
	cache    map[string]cachedResponse
	inFlight map[string]struct{}

	ttl    time.Duration
	logger *zap.Logger
}

// New builds a Guard whose cached responses expire ttl after capture.
func New(ttl time.Duration, logger *zap.Logger) *Guard {
	return &Guard{
		cache:    make(map[string]cachedResponse),
		inFlight: make(map[string]struct{}),
		ttl:      ttl,
		logger:   logger,
	}
}

// Do runs op under the idempotency contract for key. An empty key passes
// through with no dedup guarantee. The second return value reports whether
// the response was replayed from cache.
//
// The in-flight marker is cleared on every exit path, including a panic in
// op, so a dropped connection or handler crash cannot wedge the key.
func (g *Guard) Do(key string, op func() Response) (Response, bool, error) {
	if key == "" {
		return op(), false, nil
	}

	g.mu.Lock()
	if entry, ok := g.cache[key]; ok && time.Since(entry.capturedAt) < g.ttl {
		g.mu.Unlock()
		return entry.response, true, nil
	}
	if _, busy := g.inFlight[key]; busy {
		g.mu.Unlock()
		return Response{}, false, ErrDuplicateRequest
	}
	g.inFlight[key] = struct{}{}
	g.mu.Unlock()

	var resp Response
	completed := false
	defer func() {
		g.mu.Lock()
		delete(g.inFlight, key)
		if completed {
			g.cache[key] = cachedResponse{response: resp, capturedAt: time.Now()}
		}
		g.mu.Unlock()
	}()

	resp = op()
	completed = true
	return resp, false, nil
}

// Sweep evicts cached responses older than the TTL, measured against now.
// In-flight markers are not subject to expiry. Returns the eviction count.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for key, entry := range g.cache {
		if now.Sub(entry.capturedAt) >= g.ttl {
			delete(g.cache, key)
			evicted++
		}
	}
	return evicted
}

// Run sweeps expired entries on the given interval until ctx is cancelled.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(time.Now()); n > 0 {
				g.logger.Info("idempotency sweep evicted expired entries", zap.Int("evicted", n))
			}
		}
	}
}
