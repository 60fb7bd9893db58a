package presence

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/perception"
	"github.com/lannapoly/tiewson-kiosk/internal/personalize"
)

// Status is a read-only snapshot of the machine.
type Status struct {
	Mode    Mode                 `json:"mode"`
	Since   time.Time            `json:"since"`
	Profile *personalize.Profile `json:"profile,omitempty"`
}

type event func(m *Machine, now time.Time) (Transition, bool)

// Runner owns a Machine on one goroutine. Inputs are queued as events;
// one timer is armed at the machine's next deadline. Status can be read
// from any goroutine.
type Runner struct {
	machine      *Machine
	inbox        chan event
	status       atomic.Pointer[Status]
	onTransition func(Transition)
	now          func() time.Time
}

// NewRunner creates a runner. onTransition is called on the runner
// goroutine after each transition and must not block; it may be nil.
func NewRunner(t Timings, onTransition func(Transition)) *Runner {
	r := &Runner{
		machine:      NewMachine(t),
		inbox:        make(chan event, 64),
		onTransition: onTransition,
		now:          time.Now,
	}
	r.publish()
	return r
}

// Status returns the latest snapshot.
func (r *Runner) Status() Status { return *r.status.Load() }

// RequestAnalysis asks for a viewer analysis.
func (r *Runner) RequestAnalysis() {
	r.send(func(m *Machine, now time.Time) (Transition, bool) { return m.RequestAnalysis(now) })
}

// Observe forwards a perception observation.
func (r *Runner) Observe(obs perception.Observation) {
	r.send(func(m *Machine, now time.Time) (Transition, bool) {
		m.Observe(obs, now)
		return Transition{}, false
	})
}

// Interact records a UI interaction.
func (r *Runner) Interact() {
	r.send(func(m *Machine, now time.Time) (Transition, bool) {
		m.Interact(now)
		return Transition{}, false
	})
}

// Reset forces Carousel (operator or user override).
func (r *Runner) Reset() {
	r.send(func(m *Machine, now time.Time) (Transition, bool) { return m.Reset(now) })
}

func (r *Runner) send(ev event) {
	select {
	case r.inbox <- ev:
	default:
		log.Warn().Msg("Presence inbox full, dropping input")
	}
}

// Run processes inputs and deadlines until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		r.arm(timer)

		select {
		case <-ctx.Done():
			return
		case ev := <-r.inbox:
			now := r.now()
			if tr, ok := ev(r.machine, now); ok {
				r.apply(tr)
			}
			// Inputs can make a deadline due immediately (zero settle).
			if tr, ok := r.machine.Tick(now); ok {
				r.apply(tr)
			}
		case <-timer.C:
			if tr, ok := r.machine.Tick(r.now()); ok {
				r.apply(tr)
			}
		}
	}
}

func (r *Runner) arm(timer *time.Timer) {
	timer.Stop()
	deadline, ok := r.machine.NextDeadline()
	if !ok {
		return
	}
	d := deadline.Sub(r.now())
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (r *Runner) apply(tr Transition) {
	r.publish()

	ev := log.Info().
		Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Str("reason", tr.Reason)
	if tr.Profile != nil {
		ev = ev.Str("gender", string(tr.Profile.Gender)).Int("age", tr.Profile.Age)
	}
	ev.Msg("Presence mode changed")

	if r.onTransition != nil {
		r.onTransition(tr)
	}
}

func (r *Runner) publish() {
	r.status.Store(&Status{
		Mode:    r.machine.Mode(),
		Since:   r.machine.Since(),
		Profile: r.machine.Profile(),
	})
}
