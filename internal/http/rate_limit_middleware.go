package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	rateWindow         = time.Minute
	limiterSweepPeriod = 5 * time.Minute
)

// RateLimiter admits at most limit calls per key in each fixed window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

func (d rateDecision) remaining(limit int) int {
	if left := limit - d.count; left > 0 {
		return left
	}
	return 0
}

type windowCounter struct {
	hits    int
	resetAt time.Time
}

func (w *windowCounter) take(now time.Time, limit int, span time.Duration) rateDecision {
	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		w.hits, w.resetAt = 0, now.Add(span)
	}
	if w.hits >= limit {
		return rateDecision{count: w.hits, windowEnd: w.resetAt}
	}
	w.hits++
	return rateDecision{allowed: true, count: w.hits, windowEnd: w.resetAt}
}

type memoryRateLimiter struct {
	clock func() time.Time

	mu       sync.Mutex
	counters map[string]*windowCounter

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryRateLimiter returns a limiter local to this process.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter(time.Now)
}

func newMemoryRateLimiter(clock func() time.Time) *memoryRateLimiter {
	rl := &memoryRateLimiter{
		clock:    clock,
		counters: make(map[string]*windowCounter),
		stop:     make(chan struct{}),
	}
	go rl.sweepEvery(limiterSweepPeriod)
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = rateWindow
	}
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	counter := rl.counters[key]
	if counter == nil {
		counter = &windowCounter{}
		rl.counters[key] = counter
	}
	return counter.take(now, limit, window)
}

func (rl *memoryRateLimiter) sweepEvery(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep(rl.clock())
		}
	}
}

// sweep forgets counters whose window closed before now.
func (rl *memoryRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, counter := range rl.counters {
		if !now.Before(counter.resetAt) {
			delete(rl.counters, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// limited admits at most perMinute requests per client address on route.
// Preflight requests are never counted.
func (r *Router) limited(route string, perMinute int, next http.HandlerFunc) http.HandlerFunc {
	if perMinute <= 0 || r.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodOptions {
			next(w, req)
			return
		}
		decision := r.limiter.Allow(limiterKey(route, req), perMinute, rateWindow)
		setRateHeaders(w.Header(), perMinute, decision)
		if !decision.allowed {
			r.metrics.rateLimited(route)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func setRateHeaders(h http.Header, limit int, decision rateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining(limit)))
	if !decision.windowEnd.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func limiterKey(route string, req *http.Request) string {
	ip := clientIP(req)
	if ip == "" {
		ip = "unknown"
	}
	return route + "|ip:" + ip
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
