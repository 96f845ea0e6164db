package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterCountsViolations(t *testing.T) {
	l := NewLimiter(0.001, 2)

	ok, _ := l.Allow()
	assert.True(t, ok)
	ok, _ = l.Allow()
	assert.True(t, ok)

	ok, n := l.Allow()
	assert.False(t, ok)
	assert.Equal(t, 1, n)
	_, n = l.Allow()
	assert.Equal(t, 2, n)
}

func TestClientLimitersPerKey(t *testing.T) {
	cl := NewClientLimiters(1, 1)
	defer cl.Stop()

	assert.True(t, cl.Get("a").Allow())
	assert.False(t, cl.Get("a").Allow())
	assert.True(t, cl.Get("b").Allow(), "keys are independent")
	assert.Equal(t, 2, cl.Len())
}

func TestClientLimitersEvictIdle(t *testing.T) {
	cl := NewClientLimiters(60, 1)
	defer cl.Stop()

	cl.Get("old")
	cl.evictIdle(time.Now().Add(4 * time.Minute))
	assert.Equal(t, 0, cl.Len())
}

func TestMiddleware(t *testing.T) {
	cl := NewClientLimiters(1, 2)
	defer cl.Stop()
	h := cl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/canvas", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestThrottleDropsWithinInterval(t *testing.T) {
	th := NewThrottle(time.Hour)
	n := 0
	for i := 0; i < 5; i++ {
		th.Do(func() { n++ })
	}
	assert.Equal(t, 1, n)
}

func TestThrottleRunsAfterInterval(t *testing.T) {
	th := NewThrottle(10 * time.Millisecond)
	n := 0
	th.Do(func() { n++ })
	require.Eventually(t, func() bool {
		th.Do(func() { n++ })
		return n == 2
	}, time.Second, 5*time.Millisecond)
}

func TestZeroIntervalNeverDrops(t *testing.T) {
	th := NewThrottle(0)
	n := 0
	for i := 0; i < 3; i++ {
		th.Do(func() { n++ })
	}
	assert.Equal(t, 3, n)
}
