package relay

import (
	"sync"
	"time"
)

// rateLimiter caps the frames each peer may send per window.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// newRateLimiter allows limit frames per window. A limit of zero or less
// disables limiting.
func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientLimit),
	}
}

func (rl *rateLimiter) Allow(peerID string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[peerID]
	if !ok || now.Sub(cl.windowStart) >= rl.window {
		rl.clients[peerID] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if cl.count >= rl.limit {
		return false
	}
	cl.count++
	return true
}

// Forget drops a departed peer's window.
func (rl *rateLimiter) Forget(peerID string) {
	rl.mu.Lock()
	delete(rl.clients, peerID)
	rl.mu.Unlock()
}

// Cleanup removes windows idle for five window lengths.
func (rl *rateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, cl := range rl.clients {
		if now.Sub(cl.windowStart) > 5*rl.window {
			delete(rl.clients, id)
		}
	}
}
