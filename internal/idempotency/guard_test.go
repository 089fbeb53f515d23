package idempotency_test

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danharsa/billpay/internal/idempotency"
)

func newGuard(ttl time.Duration) *idempotency.Guard {
	return idempotency.New(ttl, zap.NewNop())
}

func TestDo_NoKeyPassesThrough(t *testing.T) {
	g := newGuard(10 * time.Minute)

	calls := 0
	op := func() idempotency.Response {
		calls++
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"ok":true}`)}
	}

	for i := 0; i < 3; i++ {
		resp, replayed, err := g.Do("", op)
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, http.StatusCreated, resp.Status)
	}
	assert.Equal(t, 3, calls, "without a key every call must execute")
}

func TestDo_ReplaysCachedResponse(t *testing.T) {
	g := newGuard(10 * time.Minute)

	calls := 0
	op := func() idempotency.Response {
		calls++
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"id":"abc"}`)}
	}

	first, replayed, err := g.Do("key-1", op)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := g.Do("key-1", op)
	require.NoError(t, err)
	assert.True(t, replayed)

	assert.Equal(t, 1, calls, "op must execute exactly once")
	assert.Equal(t, first, second, "replay must be byte-identical")
}

func TestDo_CachesErrorResponsesToo(t *testing.T) {
	// A captured failure is still the canonical response for the key: a retry
	// gets the same 422 back instead of re-running the operation.
	g := newGuard(10 * time.Minute)

	calls := 0
	op := func() idempotency.Response {
		calls++
		return idempotency.Response{Status: http.StatusUnprocessableEntity, Body: []byte(`{"error":"insufficient balance"}`)}
	}

	first, _, err := g.Do("key-err", op)
	require.NoError(t, err)
	second, replayed, err := g.Do("key-err", op)
	require.NoError(t, err)

	assert.True(t, replayed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestDo_InFlightCollisionRejected(t *testing.T) {
	g := newGuard(10 * time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := g.Do("key-1", func() idempotency.Response {
			close(started)
			<-release
			return idempotency.Response{Status: http.StatusCreated}
		})
		assert.NoError(t, err)
	}()

	<-started
	_, _, err := g.Do("key-1", func() idempotency.Response {
		t.Fatal("second op must not run while first is in flight")
		return idempotency.Response{}
	})
	assert.ErrorIs(t, err, idempotency.ErrDuplicateRequest)

	close(release)
	wg.Wait()

	// After the first completes, the same key replays its response.
	resp, replayed, err := g.Do("key-1", func() idempotency.Response {
		t.Fatal("must replay from cache")
		return idempotency.Response{}
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, http.StatusCreated, resp.Status)
}

func TestDo_InFlightClearedOnPanic(t *testing.T) {
	g := newGuard(10 * time.Minute)

	func() {
		defer func() { _ = recover() }()
		_, _, _ = g.Do("key-1", func() idempotency.Response {
			panic("wrapped operation exploded")
		})
	}()

	// The key must be usable again, and nothing must have been cached.
	resp, replayed, err := g.Do("key-1", func() idempotency.Response {
		return idempotency.Response{Status: http.StatusCreated}
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusCreated, resp.Status)
}

func TestSweep_EvictsOnlyExpired(t *testing.T) {
	g := newGuard(10 * time.Minute)

	_, _, err := g.Do("old", func() idempotency.Response {
		return idempotency.Response{Status: http.StatusOK}
	})
	require.NoError(t, err)

	// Not expired yet.
	assert.Equal(t, 0, g.Sweep(time.Now()))

	// Well past the window.
	assert.Equal(t, 1, g.Sweep(time.Now().Add(11*time.Minute)))

	// Expired entry no longer replays.
	_, replayed, err := g.Do("old", func() idempotency.Response {
		return idempotency.Response{Status: http.StatusOK}
	})
	require.NoError(t, err)
	assert.False(t, replayed)
}
