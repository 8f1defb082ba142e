package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hirakuhq/hiraku/internal/log"
)

const (
	// requestsPerSecond is the sustained per-client rate.
	requestsPerSecond = 10

	// defaultBurst is the per-client token bucket burst when the config
	// leaves it unset.
	defaultBurst = 30

	// limiterIdleTTL is how long an idle client's bucket survives before
	// the cleanup pass drops it.
	limiterIdleTTL = 10 * time.Minute
)

// ipLimiter tracks one token bucket per client IP.
type ipLimiter struct {
	mu         sync.Mutex
	clients    map[string]*client
	burst      int
	trustProxy bool
	logger     log.Logger
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter creates a limiter and starts its background cleanup,
// which exits when stop is closed.
func newIPLimiter(burst int, trustProxy bool, logger log.Logger, stop <-chan struct{}) *ipLimiter {
	if burst <= 0 {
		burst = defaultBurst
	}
	l := &ipLimiter{
		clients:    make(map[string]*client),
		burst:      burst,
		trustProxy: trustProxy,
		logger:     logger,
	}
	go l.cleanupLoop(stop)
	return l
}

func (l *ipLimiter) cleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *ipLimiter) cleanup() {
	cutoff := time.Now().Add(-limiterIdleTTL)

	l.mu.Lock()
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
	l.mu.Unlock()
}

// allow reports whether the client identified by ip may proceed.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(requestsPerSecond, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// clientIP extracts the caller's IP. Proxy headers are only honored
// when the server is configured to sit behind one.
func (l *ipLimiter) clientIP(r *http.Request) string {
	if l.trustProxy {
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// middleware enforces the per-IP limit, answering 429 when exceeded.
// Health probes are not limited.
func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/ready" {
			next.ServeHTTP(w, r)
			return
		}

		ip := l.clientIP(r)
		if !l.allow(ip) {
			l.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
