// Package presence decides whether the kiosk shows the generic carousel or
// a feed personalized for the viewer in front of it.
//
// Machine is the pure state machine, driven by explicit timestamps so every
// transition is reproducible in tests. Runner owns a Machine on a single
// goroutine and arms one timer at the machine's next deadline.
package presence

import (
	"fmt"
	"time"

	"github.com/lannapoly/tiewson-kiosk/internal/perception"
	"github.com/lannapoly/tiewson-kiosk/internal/personalize"
)

// Mode is what the kiosk is currently showing.
type Mode int

const (
	Carousel Mode = iota
	Analyzing
	Personalized
)

func (m Mode) String() string {
	switch m {
	case Carousel:
		return "carousel"
	case Analyzing:
		return "analyzing"
	case Personalized:
		return "personalized"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Transition reasons.
const (
	ReasonAnalysisRequested = "analysis_requested"
	ReasonProfileSettled    = "profile_settled"
	ReasonAnalysisAbandoned = "analysis_abandoned"
	ReasonPresenceTimeout   = "presence_timeout"
	ReasonOverride          = "override"
)

// Timings are the machine's delays.
type Timings struct {
	// Settle is the wait between the first qualifying sample and entering
	// Personalized.
	Settle time.Duration
	// AnalysisTimeout abandons an analysis that saw no qualifying sample.
	AnalysisTimeout time.Duration
	// PresenceTimeout ends a personalized session once engagement has been
	// idle for strictly longer than this.
	PresenceTimeout time.Duration
}

// DefaultTimings are the production delays.
var DefaultTimings = Timings{
	Settle:          time.Second,
	AnalysisTimeout: 10 * time.Second,
	PresenceTimeout: 30 * time.Second,
}

// Transition describes one mode change.
type Transition struct {
	From    Mode
	To      Mode
	Reason  string
	At      time.Time
	Profile *personalize.Profile // set when To is Personalized
}

// EngagementClock is the single record of the last viewer engagement. Both
// detections and UI interactions touch it; the presence timeout reads it.
type EngagementClock struct {
	last time.Time
}

// Touch records engagement at now. Older timestamps are ignored.
func (c *EngagementClock) Touch(now time.Time) {
	if now.After(c.last) {
		c.last = now
	}
}

// Last returns the most recent engagement time.
func (c *EngagementClock) Last() time.Time { return c.last }

// Idle returns the time elapsed since the last engagement.
func (c *EngagementClock) Idle(now time.Time) time.Duration { return now.Sub(c.last) }

// Machine is the presence/mode state machine. It is not safe for concurrent
// use; Runner serializes access.
type Machine struct {
	timings Timings
	mode    Mode
	since   time.Time

	// Analyzing
	analysisDeadline time.Time // zero once a qualifying sample arrived
	pending          *personalize.Profile
	settleAt         time.Time

	// Personalized
	profile    *personalize.Profile
	engagement EngagementClock
}

// NewMachine returns a machine in Carousel.
func NewMachine(t Timings) *Machine {
	return &Machine{timings: t, mode: Carousel}
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode { return m.mode }

// Since returns when the current mode was entered.
func (m *Machine) Since() time.Time { return m.since }

// Profile returns a copy of the active viewer profile, nil outside
// Personalized.
func (m *Machine) Profile() *personalize.Profile {
	if m.mode != Personalized || m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// LastEngagement returns the engagement clock reading.
func (m *Machine) LastEngagement() time.Time { return m.engagement.Last() }

// RequestAnalysis starts a viewer analysis from Carousel. In other modes it
// does nothing.
func (m *Machine) RequestAnalysis(now time.Time) (Transition, bool) {
	if m.mode != Carousel {
		return Transition{}, false
	}
	m.analysisDeadline = now.Add(m.timings.AnalysisTimeout)
	m.pending = nil
	m.settleAt = time.Time{}
	return m.enter(Analyzing, ReasonAnalysisRequested, now), true
}

// Observe feeds one perception observation.
//
// While Analyzing, the first qualifying observation cancels the abandon
// deadline and starts the settle delay; later qualifying observations during
// the settle delay replace the pending profile. While Personalized, any
// observation with a detected face counts as engagement.
func (m *Machine) Observe(obs perception.Observation, now time.Time) {
	switch m.mode {
	case Analyzing:
		if !obs.Qualifies() {
			return
		}
		p := obs.Profile()
		if m.pending == nil {
			m.settleAt = now.Add(m.timings.Settle)
			m.analysisDeadline = time.Time{}
		}
		m.pending = &p
	case Personalized:
		if obs.Detected {
			m.engagement.Touch(now)
		}
	}
}

// Interact records an explicit UI interaction. It only refreshes engagement
// in Personalized.
func (m *Machine) Interact(now time.Time) {
	if m.mode == Personalized {
		m.engagement.Touch(now)
	}
}

// Tick applies any deadline that has passed at now.
func (m *Machine) Tick(now time.Time) (Transition, bool) {
	switch m.mode {
	case Analyzing:
		if m.pending != nil {
			if now.Before(m.settleAt) {
				return Transition{}, false
			}
			m.profile = m.pending
			m.pending = nil
			m.settleAt = time.Time{}
			m.engagement = EngagementClock{}
			m.engagement.Touch(now)
			tr := m.enter(Personalized, ReasonProfileSettled, now)
			p := *m.profile
			tr.Profile = &p
			return tr, true
		}
		if !m.analysisDeadline.IsZero() && !now.Before(m.analysisDeadline) {
			m.clear()
			return m.enter(Carousel, ReasonAnalysisAbandoned, now), true
		}
	case Personalized:
		if m.engagement.Idle(now) > m.timings.PresenceTimeout {
			m.clear()
			return m.enter(Carousel, ReasonPresenceTimeout, now), true
		}
	}
	return Transition{}, false
}

// Reset returns to Carousel from any mode and clears all viewer state.
// It reports a transition only when the mode changed.
func (m *Machine) Reset(now time.Time) (Transition, bool) {
	m.clear()
	if m.mode == Carousel {
		return Transition{}, false
	}
	return m.enter(Carousel, ReasonOverride, now), true
}

// NextDeadline returns the next instant at which Tick may transition, and
// false when no deadline is pending.
func (m *Machine) NextDeadline() (time.Time, bool) {
	switch m.mode {
	case Analyzing:
		if m.pending != nil {
			return m.settleAt, true
		}
		if !m.analysisDeadline.IsZero() {
			return m.analysisDeadline, true
		}
	case Personalized:
		// The timeout fires once idle time strictly exceeds the limit.
		return m.engagement.Last().Add(m.timings.PresenceTimeout + time.Nanosecond), true
	}
	return time.Time{}, false
}

func (m *Machine) clear() {
	m.profile = nil
	m.pending = nil
	m.analysisDeadline = time.Time{}
	m.settleAt = time.Time{}
	m.engagement = EngagementClock{}
}

func (m *Machine) enter(to Mode, reason string, now time.Time) Transition {
	tr := Transition{From: m.mode, To: to, Reason: reason, At: now}
	m.mode = to
	m.since = now
	return tr
}
