// Package handshake implements the contact exchange between peers:
// request/accept processing with duplicate suppression. Radio peers rebroadcast
// their handshakes aggressively, so responses are debounced per peer.
package handshake

import (
	"sync"
	"time"
)

// DebounceWindow is the default per-peer suppression window.
const DebounceWindow = 30 * time.Second

// Debouncer tracks when we last responded to each peer and suppresses
// responses inside the window. Entries older than twice the window are
// swept on insert, so the map stays proportional to recently active peers.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[string]time.Time
}

// NewDebouncer creates a debouncer. window <= 0 falls back to
// DebounceWindow; now == nil falls back to time.Now.
func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if window <= 0 {
		window = DebounceWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Debouncer{
		window: window,
		now:    now,
		last:   make(map[string]time.Time),
	}
}

// ShouldRespond reports whether a response to peerID is allowed now. When
// it is, the response time is recorded before returning, so concurrent
// callers cannot both pass for the same peer.
func (d *Debouncer) ShouldRespond(peerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, seen := d.last[peerID]; seen && now.Sub(at) < d.window {
		return false
	}
	d.sweepLocked(now)
	d.last[peerID] = now
	return true
}

// Len returns the number of tracked peers.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}

func (d *Debouncer) sweepLocked(now time.Time) {
	cutoff := now.Add(-2 * d.window)
	for id, at := range d.last {
		if at.Before(cutoff) {
			delete(d.last, id)
		}
	}
}
