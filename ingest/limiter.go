package ingest

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// limiter is an adaptive token bucket. Rate climbs additively while the
// source stays quiet and is cut multiplicatively on a penalty; a
// Retry-After hint freezes the bucket entirely until it elapses.
type limiter struct {
	mu sync.Mutex

	curRPS      float64
	minRPS      float64
	maxRPS      float64
	stepUpRPS   float64
	downMult    float64
	burstFactor float64

	tokens      float64
	lastRefill  time.Time
	lastPenalty time.Time

	cooldownUntil time.Time
	jitterMs      int

	inflight chan struct{}
}

func newLimiter(minRPS, maxRPS float64, jitterMs, maxInflight int) *limiter {
	now := time.Now()
	if maxRPS < minRPS {
		maxRPS = minRPS
	}
	if maxInflight <= 0 {
		maxInflight = 2
	}
	return &limiter{
		inflight:    make(chan struct{}, maxInflight),
		curRPS:      minRPS,
		minRPS:      minRPS,
		maxRPS:      maxRPS,
		stepUpRPS:   0.1,
		downMult:    0.5,
		burstFactor: 2.0,
		tokens:      minRPS * 2.0,
		lastRefill:  now,
		jitterMs:    jitterMs,
	}
}

func (l *limiter) burstCap() float64 { return l.curRPS * l.burstFactor }

func (l *limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens = math.Min(l.burstCap(), l.tokens+elapsed*l.curRPS)
	l.lastRefill = now

	// passive additive increase when stable
	if now.Sub(l.lastPenalty) > 5*time.Second && l.curRPS < l.maxRPS {
		l.curRPS = math.Min(l.maxRPS, l.curRPS+l.stepUpRPS*elapsed)
		l.tokens = math.Min(l.burstCap(), l.tokens)
	}
}

// Take blocks until a token is available or ctx is done. Returns false
// only on context cancellation.
func (l *limiter) Take(ctx context.Context) bool {
	for {
		l.mu.Lock()
		now := time.Now()

		if now.Before(l.cooldownUntil) {
			sleep := time.Until(l.cooldownUntil)
			if l.jitterMs > 0 {
				sleep += time.Duration(rand.Intn(l.jitterMs)) * time.Millisecond
			}
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return false
			case <-time.After(sleep):
			}
			continue
		}

		l.refill(now)
		if l.tokens >= 1.0 {
			l.tokens -= 1.0
			l.mu.Unlock()
			return true
		}
		wait := time.Duration((1.0 / l.curRPS) * float64(time.Second))
		if l.jitterMs > 0 {
			wait += time.Duration(rand.Intn(l.jitterMs)) * time.Millisecond
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// Enter takes an in-flight slot, blocking until one frees up or ctx is
// done. The slot count caps concurrent fetches against one source.
func (l *limiter) Enter(ctx context.Context) bool {
	select {
	case l.inflight <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *limiter) Leave() { <-l.inflight }

// Penalize cuts the rate and optionally enforces a server-dictated
// cooldown window.
func (l *limiter) Penalize(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastPenalty = time.Now()
	l.curRPS = math.Max(l.minRPS, l.curRPS*l.downMult)
	l.tokens = math.Min(l.tokens, l.burstCap())

	if retryAfter > 0 {
		if until := time.Now().Add(retryAfter); until.After(l.cooldownUntil) {
			l.cooldownUntil = until
		}
	}
}

// limiterSet hands out one limiter per source so a throttled source
// never slows the others down.
type limiterSet struct {
	mu          sync.Mutex
	limiters    map[string]*limiter
	minRPS      float64
	maxRPS      float64
	jitterMs    int
	maxInflight int
}

func newLimiterSet(minRPS, maxRPS float64, jitterMs, maxInflight int) *limiterSet {
	return &limiterSet{
		limiters:    map[string]*limiter{},
		minRPS:      minRPS,
		maxRPS:      maxRPS,
		jitterMs:    jitterMs,
		maxInflight: maxInflight,
	}
}

func (s *limiterSet) For(source string) *limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[source]
	if !ok {
		l = newLimiter(s.minRPS, s.maxRPS, s.jitterMs, s.maxInflight)
		s.limiters[source] = l
	}
	return l
}
