package kiosk

import "time"

// Admin gate settings: AdminTaps logo taps, each within AdminTapWindow of
// the previous one, open the admin screen.
const (
	AdminTaps      = 5
	AdminTapWindow = 2 * time.Second
)

// AdminGate detects the hidden admin gesture. The tap-sequence reset is a
// deadline owned by the gate, so two gates never share a counter.
type AdminGate struct {
	taps    int
	resetAt time.Time
	open    bool
}

// Tap registers a logo tap at now and reports whether it opened the
// admin screen.
func (g *AdminGate) Tap(now time.Time) bool {
	if g.taps > 0 && now.After(g.resetAt) {
		g.taps = 0
	}
	g.taps++
	g.resetAt = now.Add(AdminTapWindow)
	if g.taps < AdminTaps {
		return false
	}
	g.taps = 0
	g.resetAt = time.Time{}
	if g.open {
		return false
	}
	g.open = true
	return true
}

// Toggle flips the admin screen (Alt+A) and returns the new state.
func (g *AdminGate) Toggle() bool {
	g.open = !g.open
	g.taps = 0
	return g.open
}

// Close leaves the admin screen.
func (g *AdminGate) Close() {
	g.open = false
	g.taps = 0
}

// Open reports whether the admin screen is showing.
func (g *AdminGate) Open() bool { return g.open }
