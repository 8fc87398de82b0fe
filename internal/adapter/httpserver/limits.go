package httpserver

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterSweepInterval = 5 * time.Minute
	rateLimiterIdleExpiry    = 10 * time.Minute
)

// LimitReason describes why a subscriber connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

type ipRate struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// connectionLimits admits subscriber connections against a global cap, a
// per-IP cap and a per-IP connect rate. Every successful Acquire must be
// paired with one Release for the same IP.
type connectionLimits struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	total   int
	perIP   map[string]int
	rates   map[string]*ipRate
	sweepAt time.Time

	maxTotal int
	maxPerIP int
	rate     rate.Limit
	burst    int
}

func newConnectionLimits(maxTotal, maxPerIP int, connectionsPerSecond float64, burst int, clock clockwork.Clock) *connectionLimits {
	return &connectionLimits{
		clock:    clock,
		perIP:    make(map[string]int),
		rates:    make(map[string]*ipRate),
		sweepAt:  clock.Now().Add(rateLimiterSweepInterval),
		maxTotal: maxTotal,
		maxPerIP: maxPerIP,
		rate:     rate.Limit(connectionsPerSecond),
		burst:    burst,
	}
}

// Acquire reserves a slot for ip. The rate is checked first, so a rejected
// burst still consumes tokens.
func (l *connectionLimits) Acquire(ip string) (bool, LimitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.sweepAt) {
		l.sweep(now)
		l.sweepAt = now.Add(rateLimiterSweepInterval)
	}

	entry, ok := l.rates[ip]
	if !ok {
		entry = &ipRate{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.rates[ip] = entry
	}
	entry.lastSeen = now

	if !entry.limiter.AllowN(now, 1) {
		return false, LimitReasonRate
	}
	if l.total >= l.maxTotal {
		return false, LimitReasonGlobal
	}
	if l.perIP[ip] >= l.maxPerIP {
		return false, LimitReasonPerIP
	}

	l.total++
	l.perIP[ip]++
	return true, ""
}

func (l *connectionLimits) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, ok := l.perIP[ip]
	if !ok {
		return
	}
	if count <= 1 {
		delete(l.perIP, ip)
	} else {
		l.perIP[ip] = count - 1
	}
	l.total--
}

func (l *connectionLimits) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *connectionLimits) CountFor(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

// sweep drops rate limiters idle for longer than rateLimiterIdleExpiry.
// Must be called with mu held.
func (l *connectionLimits) sweep(now time.Time) {
	cutoff := now.Add(-rateLimiterIdleExpiry)
	for ip, entry := range l.rates {
		if entry.lastSeen.Before(cutoff) {
			delete(l.rates, ip)
		}
	}
}

func (l *connectionLimits) trackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rates)
}
