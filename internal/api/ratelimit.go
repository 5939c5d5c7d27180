package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wakala/loanengine/internal/logging"
)

const (
	visitorIdleTTL  = time.Hour
	cleanupInterval = 30 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket keyed by remote IP.
type RateLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	visitors map[string]*visitor
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	log      *slog.Logger
}

func NewRateLimiter(requestsPerMinute float64, burst int) *RateLimiter {
	perSecond := requestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		perSec:   rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
		stop:     make(chan struct{}),
		log:      logging.Component(nil, "ratelimit"),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Allow(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.perSec, rl.burst)}
		rl.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		if !rl.Allow(client) {
			rl.log.Debug("rate limited", slog.String("client", client), slog.String("path", r.URL.Path))
			if err := encodeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"}); err != nil {
				rl.log.Warn("encode response", slog.String("error", err.Error()))
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for id, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(rl.visitors, id)
		}
	}
}

// clientID prefers the address set by middleware.RealIP.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
