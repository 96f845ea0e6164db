// Package ratelimit bounds inbound relay traffic and outbound client
// emissions.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket that also counts how often it said no.
type Limiter struct {
	lim        *rate.Limiter
	mu         sync.Mutex
	violations int
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow consumes a token. When none is left it returns false together with
// the running violation count.
func (l *Limiter) Allow() (bool, int) {
	if l.lim.Allow() {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.violations++
	return false, l.violations
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiters keeps one limiter per key (usually a remote IP) and forgets
// keys that have been idle.
type ClientLimiters struct {
	limiters        map[string]*entry
	rate            rate.Limit
	burst           int
	mu              sync.Mutex
	idleAfter       time.Duration
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewClientLimiters allows perMinute requests per key with the given burst.
func NewClientLimiters(perMinute, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*entry),
		rate:            rate.Limit(float64(perMinute) / 60.0),
		burst:           burst,
		idleAfter:       3 * time.Minute,
		cleanupInterval: time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	e, ok := cl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (cl *ClientLimiters) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.evictIdle(time.Now())
		}
	}
}

func (cl *ClientLimiters) evictIdle(now time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for key, e := range cl.limiters {
		if now.Sub(e.lastSeen) > cl.idleAfter {
			delete(cl.limiters, key)
		}
	}
}

// Middleware rejects requests from a remote address that exceeded its rate.
func (cl *ClientLimiters) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.Get(clientIP(r)).Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Throttle is a drop gate: a call within the interval of the last accepted
// one is discarded, not queued. A zero interval never drops.
type Throttle struct {
	s   rate.Sometimes
	off bool
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{s: rate.Sometimes{Interval: interval}, off: interval <= 0}
}

// Do runs f unless the previous accepted call was less than the interval ago.
func (t *Throttle) Do(f func()) {
	if t.off {
		f()
		return
	}
	t.s.Do(f)
}
