package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Pacer is a limiter that adapts to the outcome of each request.
type Pacer interface {
	RateLimiter
	RecordSuccess()
	RecordError()
}

type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()

	if elapsed < delay {
		timer := time.NewTimer(delay - elapsed)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

// Delays returns the current bounds.
func (r *SimpleRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	delta := r.maxDelay - r.minDelay
	if !r.jitter || delta <= 0 {
		return r.minDelay
	}

	jitter := time.Duration(rand.Int63n(int64(delta)))
	return r.minDelay + jitter
}

// AdaptiveRateLimiter widens its delays after repeated blocks and narrows
// them back towards the configured floor after a run of successes.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	floor         time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	maxMin        time.Duration
	maxMax        time.Duration
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		floor:             minDelay,
		maxErrorCount:     3,
		backoffFactor:     1.5,
		maxMin:            30 * time.Second,
		maxMax:            60 * time.Second,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > a.maxMin {
			newMin = a.maxMin
		}
		if newMax > a.maxMax {
			newMax = a.maxMax
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}

// Registry hands out one adaptive limiter per marketplace so that a block on
// one marketplace never slows down requests to another.
type Registry struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	limiters map[models.Marketplace]*AdaptiveRateLimiter
}

func NewRegistry(minDelay, maxDelay time.Duration) *Registry {
	return &Registry{
		minDelay: minDelay,
		maxDelay: maxDelay,
		limiters: make(map[models.Marketplace]*AdaptiveRateLimiter),
	}
}

// Delays returns the current delay bounds for marketplace.
func (r *Registry) Delays(marketplace models.Marketplace) (time.Duration, time.Duration) {
	return r.For(marketplace).Delays()
}

func (r *Registry) For(marketplace models.Marketplace) *AdaptiveRateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[marketplace]
	if !ok {
		l = NewAdaptiveRateLimiter(r.minDelay, r.maxDelay)
		r.limiters[marketplace] = l
	}
	return l
}
