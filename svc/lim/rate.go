// Package lim provides the per-IP request limiter. Each client gets its own
// token bucket; idle buckets are evicted on a timer so the map stays
// bounded.
package lim

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
)

type Limiter struct {
	trustedProxies []string
	localLimiters  map[string]*limiterEntry
	mu             sync.Mutex
	rpm            int
	burst          int
	throttledUntil time.Time
	quit           chan struct{}
	stopOnce       sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(rpm, burst int, trustedProxies []string) *Limiter {
	l := &Limiter{
		trustedProxies: trustedProxies,
		localLimiters:  make(map[string]*limiterEntry),
		rpm:            rpm,
		burst:          burst,
		quit:           make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpired()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) evictExpired() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, entry := range l.localLimiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.localLimiters, ip)
		}
	}
}

// Check consumes one token for the request's client IP.
func (l *Limiter) Check(r *http.Request) Result {
	ip := GetRealIP(r, l.trustedProxies)
	l.mu.Lock()
	entry, ok := l.localLimiters[ip]
	if !ok {
		if len(l.localLimiters) >= maxLimiters {
			// Evict inline rather than grow without bound under churn.
			oldest := ""
			oldestAt := time.Now()
			for k, e := range l.localLimiters {
				if e.lastAccess.Before(oldestAt) {
					oldest = k
					oldestAt = e.lastAccess
				}
			}
			if oldest != "" {
				delete(l.localLimiters, oldest)
			}
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst),
		}
		l.localLimiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	lim := entry.limiter
	throttled := time.Now().Before(l.throttledUntil)
	l.mu.Unlock()

	// Under throttle every request costs double, halving throughput.
	cost := 1
	if throttled {
		cost = 2
	}
	allowed := lim.AllowN(time.Now(), cost)
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     l.burst,
		Remaining: remaining,
		Reset:     time.Now().Add(time.Minute),
	}
}

// Tighten halves the effective request rate for the given duration. Called
// by the watchdog when the recent error rate spikes.
func (l *Limiter) Tighten(d time.Duration) {
	until := time.Now().Add(d)
	l.mu.Lock()
	if until.After(l.throttledUntil) {
		l.throttledUntil = until
	}
	l.mu.Unlock()
}

// GetRealIP returns the client address, honoring X-Forwarded-For only when
// the direct peer is a configured trusted proxy.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	if !ipTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	parts := strings.Split(xff, ",")
	client := strings.TrimSpace(parts[0])
	if net.ParseIP(client) == nil {
		return remoteIP
	}
	return client
}

func ipTrusted(ip string, trusted []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, t := range trusted {
		if strings.Contains(t, "/") {
			if _, cidr, err := net.ParseCIDR(t); err == nil && cidr.Contains(parsed) {
				return true
			}
		} else if t == ip {
			return true
		}
	}
	return false
}
