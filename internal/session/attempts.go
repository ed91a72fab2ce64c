package session

import (
	"sync"
	"time"
)

// Keypad guessing limits.
const (
	DefaultKeypadAttempts = 10
	DefaultKeypadWindow   = time.Minute
)

// attemptLimiter counts failed keypad entries per viewer and variant.
// FUNCTIONAL DISCOVERY: fixed window per key; a correct code clears the key
// so a solved keypad never stays locked.
type attemptLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	keys   map[string]*attemptWindow
}

type attemptWindow struct {
	failures int
	start    time.Time
}

func newAttemptLimiter(limit int, window time.Duration, now func() time.Time) *attemptLimiter {
	return &attemptLimiter{
		limit:  limit,
		window: window,
		now:    now,
		keys:   make(map[string]*attemptWindow),
	}
}

// Allow reports whether key may try again, and how long to wait if not.
func (l *attemptLimiter) Allow(key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.keys[key]
	if !ok {
		return true, 0
	}
	elapsed := l.now().Sub(w.start)
	if elapsed >= l.window {
		delete(l.keys, key)
		return true, 0
	}
	if w.failures >= l.limit {
		return false, l.window - elapsed
	}
	return true, 0
}

// Fail records a wrong code.
func (l *attemptLimiter) Fail(key string) {
	if l.limit <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.keys[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.keys[key] = &attemptWindow{failures: 1, start: now}
		l.sweepLocked(now)
		return
	}
	w.failures++
}

// Reset forgets key after a correct code.
func (l *attemptLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}

// sweepLocked drops expired windows once the map has grown.
func (l *attemptLimiter) sweepLocked(now time.Time) {
	if len(l.keys) < 1024 {
		return
	}
	for key, w := range l.keys {
		if now.Sub(w.start) >= l.window {
			delete(l.keys, key)
		}
	}
}
