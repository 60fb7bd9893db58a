package presence

import (
	"context"
	"testing"
	"time"

	"github.com/lannapoly/tiewson-kiosk/internal/personalize"
)

var fastTimings = Timings{
	Settle:          20 * time.Millisecond,
	AnalysisTimeout: 200 * time.Millisecond,
	PresenceTimeout: 150 * time.Millisecond,
}

func startRunner(t *testing.T, timings Timings) (*Runner, <-chan Transition) {
	t.Helper()
	transitions := make(chan Transition, 16)
	r := NewRunner(timings, func(tr Transition) { transitions <- tr })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	return r, transitions
}

func expectTransition(t *testing.T, ch <-chan Transition, to Mode, reason string) Transition {
	t.Helper()
	select {
	case tr := <-ch:
		if tr.To != to || tr.Reason != reason {
			t.Fatalf("got %s (%s), want %s (%s)", tr.To, tr.Reason, to, reason)
		}
		return tr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", to)
	}
	return Transition{}
}

func TestRunner_FullSession(t *testing.T) {
	r, transitions := startRunner(t, fastTimings)

	if got := r.Status().Mode; got != Carousel {
		t.Fatalf("initial mode = %s", got)
	}

	r.RequestAnalysis()
	expectTransition(t, transitions, Analyzing, ReasonAnalysisRequested)

	r.Observe(qualifying(personalize.Female, 21))
	tr := expectTransition(t, transitions, Personalized, ReasonProfileSettled)
	if tr.Profile == nil || tr.Profile.Age != 21 {
		t.Errorf("unexpected profile %+v", tr.Profile)
	}
	st := r.Status()
	if st.Mode != Personalized || st.Profile == nil || st.Profile.Gender != personalize.Female {
		t.Errorf("unexpected status %+v", st)
	}

	expectTransition(t, transitions, Carousel, ReasonPresenceTimeout)
	if r.Status().Profile != nil {
		t.Error("status still carries a profile after timeout")
	}
}

func TestRunner_InteractionKeepsSessionAlive(t *testing.T) {
	r, transitions := startRunner(t, fastTimings)
	r.RequestAnalysis()
	expectTransition(t, transitions, Analyzing, ReasonAnalysisRequested)
	r.Observe(qualifying(personalize.Male, 40))
	entered := expectTransition(t, transitions, Personalized, ReasonProfileSettled)

	stop := time.After(400 * time.Millisecond)
	ticker := time.NewTicker(30 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			r.Interact()
		case tr := <-transitions:
			t.Fatalf("unexpected transition while interacting: %+v", tr)
		case <-stop:
			break loop
		}
	}

	tr := expectTransition(t, transitions, Carousel, ReasonPresenceTimeout)
	if tr.At.Sub(entered.At) < 400*time.Millisecond {
		t.Errorf("session ended after %v despite interaction", tr.At.Sub(entered.At))
	}
}

func TestRunner_AbandonAndReset(t *testing.T) {
	r, transitions := startRunner(t, fastTimings)

	r.RequestAnalysis()
	expectTransition(t, transitions, Analyzing, ReasonAnalysisRequested)
	expectTransition(t, transitions, Carousel, ReasonAnalysisAbandoned)

	r.RequestAnalysis()
	expectTransition(t, transitions, Analyzing, ReasonAnalysisRequested)
	r.Reset()
	expectTransition(t, transitions, Carousel, ReasonOverride)
}
