package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window counter keyed by string. It throttles
// user-triggered actions such as single-feed refreshes and sign-ins.
type Limiter struct {
	attempts map[string][]time.Time
	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

func NewLimiter() *Limiter {
	l := &Limiter{
		attempts: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanup(5*time.Minute, 24*time.Hour)
	return l
}

// Allow records an attempt for key and reports whether it is within
// maxAttempts for the trailing window.
func (l *Limiter) Allow(key string, maxAttempts int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	var validAttempts []time.Time
	for _, timestamp := range l.attempts[key] {
		if timestamp.After(cutoff) {
			validAttempts = append(validAttempts, timestamp)
		}
	}

	if len(validAttempts) >= maxAttempts {
		l.attempts[key] = validAttempts
		return false
	}

	l.attempts[key] = append(validAttempts, now)
	return true
}

func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup(every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune(maxAge)
		}
	}
}

func (l *Limiter) prune(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, attempts := range l.attempts {
		var validAttempts []time.Time
		for _, timestamp := range attempts {
			if now.Sub(timestamp) < maxAge {
				validAttempts = append(validAttempts, timestamp)
			}
		}
		if len(validAttempts) == 0 {
			delete(l.attempts, key)
		} else {
			l.attempts[key] = validAttempts
		}
	}
}
