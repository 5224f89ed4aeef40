package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedPairingKeys caps the number of senders tracked for pairing
	// debounce so a flood of unknown senders cannot grow memory unbounded.
	maxTrackedPairingKeys = 4096

	// pairingDebounceWindow is the minimum gap between two pairing requests
	// from the same sender.
	pairingDebounceWindow = 60 * time.Second
)

// PairingDebouncer allows one pairing request per sender per window.
// Safe for concurrent use.
type PairingDebouncer struct {
	mu       sync.Mutex
	window   time.Duration
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewPairingDebouncer creates a debouncer; window <= 0 uses 60s.
func NewPairingDebouncer(window time.Duration) *PairingDebouncer {
	if window <= 0 {
		window = pairingDebounceWindow
	}
	return &PairingDebouncer{
		window:   window,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow returns true if key has not been allowed within the window, and
// records the attempt. Prunes stale entries when approaching the cap.
func (p *PairingDebouncer) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	if len(p.lastSent) >= maxTrackedPairingKeys {
		for k, t := range p.lastSent {
			if now.Sub(t) >= p.window {
				delete(p.lastSent, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(p.lastSent) >= maxTrackedPairingKeys {
			for k := range p.lastSent {
				delete(p.lastSent, k)
				break
			}
		}
	}

	if t, ok := p.lastSent[key]; ok && now.Sub(t) < p.window {
		return false
	}
	p.lastSent[key] = now
	return true
}
