// Package kiosk ties the subsystems together: presence mode drives the
// camera and the feed, content changes reach the screen, and the page's
// UI events are routed to presence, the assistant and the admin gate.
package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/assistant"
	"github.com/lannapoly/tiewson-kiosk/internal/bridge"
	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/metrics"
	"github.com/lannapoly/tiewson-kiosk/internal/perception"
	"github.com/lannapoly/tiewson-kiosk/internal/personalize"
	"github.com/lannapoly/tiewson-kiosk/internal/presence"
)

// Intervals.
const (
	CarouselInterval = 5 * time.Second
	RefreshInterval  = 5 * time.Minute
)

// UI event types sent by the page.
const (
	EventConsent     = "ui.consent"
	EventTap         = "ui.tap"
	EventAnalyze     = "ui.analyze"
	EventLocale      = "ui.locale"
	EventLogo        = "ui.logo"
	EventAdminToggle = "ui.adminToggle"
	EventAdminClose  = "ui.adminClose"
	EventMascot      = "ui.mascot"
	EventMic         = "ui.mic"
	EventChat        = "ui.chat"
	EventPanelClose  = "ui.panelClose"
)

// --- Collaborators ---

// Publisher broadcasts to every connected page. *bridge.Hub implements it.
type Publisher interface {
	Broadcast(typ string, payload any) error
}

// Presence is the mode state machine. *presence.Runner implements it.
type Presence interface {
	RequestAnalysis()
	Observe(obs perception.Observation)
	Interact()
	Reset()
}

// Perceiver samples the camera. *perception.Adapter implements it.
type Perceiver interface {
	Run(ctx context.Context, emit func(perception.Observation)) error
}

// Assistant is the voice assistant. *assistant.Controller implements it.
type Assistant interface {
	bridge.SpeechEvents
	State() assistant.State
	TogglePanel()
	ClosePanel()
	ToggleMic()
	Submit(text string)
	SetLocale(l locale.Locale)
	EnginesLost()
}

var (
	_ Presence  = (*presence.Runner)(nil)
	_ Perceiver = (*perception.Adapter)(nil)
	_ Assistant = (*assistant.Controller)(nil)
)

// Config wires an App.
type Config struct {
	Content   *content.Service
	Presence  Presence
	Perceiver Perceiver
	Assistant Assistant
	Publisher Publisher
	Locale    locale.Locale
	// SkipConsent starts with the PDPA notice already accepted.
	SkipConsent bool
}

// --- Snapshot ---

// FeedItem is one localized item on screen.
type FeedItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	MediaType   string `json:"mediaType"`
	MediaURL    string `json:"mediaUrl"`
}

// Feed is what the page renders.
type Feed struct {
	Personalized bool       `json:"personalized"`
	Index        int        `json:"index"`
	Items        []FeedItem `json:"items"`
}

// Snapshot is the full kiosk state broadcast to the page.
type Snapshot struct {
	Locale          locale.Locale        `json:"locale"`
	ConsentRequired bool                 `json:"consentRequired"`
	Admin           bool                 `json:"admin"`
	Mode            presence.Mode        `json:"mode"`
	Profile         *personalize.Profile `json:"profile,omitempty"`
	Feed            Feed                 `json:"feed"`
	Notices         []Notice             `json:"notices"`
	Assistant       assistant.State      `json:"assistant"`
}

// --- App ---

type request struct {
	fn   func()
	done chan struct{}
}

// App is the kiosk orchestrator. Its state is owned by the Run goroutine.
type App struct {
	cfg     Config
	inbox   chan request
	stopped chan struct{}
	// contentChanged and assistantChanged coalesce change signals from
	// callbacks that must not block.
	contentChanged   chan struct{}
	assistantChanged chan struct{}

	ctx       context.Context
	locale    locale.Locale
	consent   bool
	gate      AdminGate
	mode      presence.Mode
	profile   *personalize.Profile
	items     []content.Item
	stale     bool
	index     int
	faceSeen  bool
	degraded  map[string]bool
	dirty     bool
	perceiver *perceptionRun

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())
}

type perceptionRun struct {
	cancel context.CancelFunc
}

// New creates an App.
func New(cfg Config) *App {
	l := cfg.Locale
	if !l.Valid() {
		l = locale.Default
	}
	return &App{
		cfg:              cfg,
		inbox:            make(chan request, 64),
		stopped:          make(chan struct{}),
		contentChanged:   make(chan struct{}, 1),
		assistantChanged: make(chan struct{}, 1),
		ctx:              context.Background(),
		locale:           l,
		consent:          cfg.SkipConsent,
		mode:             presence.Carousel,
		degraded:         make(map[string]bool),
		now:              time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Run loads content and processes events until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.ctx = ctx
	defer close(a.stopped)

	unsubscribe := a.cfg.Content.OnChange(func([]content.Item) { signal(a.contentChanged) })
	defer unsubscribe()

	carousel, stopCarousel := a.newTicker(CarouselInterval)
	defer stopCarousel()
	refresh, stopRefresh := a.newTicker(RefreshInterval)
	defer stopRefresh()

	a.refreshContent()
	a.dirty = true

	for {
		if a.dirty {
			a.publish()
		}
		select {
		case r := <-a.inbox:
			r.fn()
			if r.done != nil {
				if a.dirty {
					a.publish()
				}
				close(r.done)
			}
		case <-a.contentChanged:
			a.loadSnapshot()
		case <-a.assistantChanged:
			a.dirty = true
		case <-carousel:
			a.advanceCarousel()
		case <-refresh:
			a.refreshContent()
		case <-ctx.Done():
			a.stopPerception()
			log.Info().Msg("Kiosk stopped")
			return nil
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (a *App) do(fn func()) {
	done := make(chan struct{})
	select {
	case a.inbox <- request{fn: fn, done: done}:
	case <-a.stopped:
		return
	}
	select {
	case <-done:
	case <-a.stopped:
	}
}

func (a *App) post(fn func()) {
	select {
	case a.inbox <- request{fn: fn}:
	case <-a.stopped:
	}
}

// AssistantChanged is the assistant's OnChange hook.
func (a *App) AssistantChanged(assistant.State) { signal(a.assistantChanged) }

// OnTransition is the presence runner's transition hook.
func (a *App) OnTransition(tr presence.Transition) {
	a.post(func() { a.applyTransition(tr) })
}

// Snapshot returns the current kiosk state.
func (a *App) Snapshot() Snapshot {
	var s Snapshot
	a.do(func() { s = a.snapshot() })
	return s
}

// --- bridge.Handler ---

var _ bridge.Handler = (*App)(nil)

type uiPayload struct {
	Accepted bool   `json:"accepted"`
	Locale   string `json:"locale"`
	Text     string `json:"text"`
}

// HandleEvent routes one page event.
func (a *App) HandleEvent(env bridge.Envelope) {
	if bridge.DispatchSpeech(env, a.cfg.Assistant) {
		return
	}
	var p uiPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Err(err).Str("type", env.Type).Msg("Bad UI event payload")
			return
		}
	}

	switch env.Type {
	case EventConsent:
		a.do(func() { a.setConsent(p.Accepted) })
	case EventTap:
		a.cfg.Presence.Interact()
	case EventAnalyze:
		a.do(a.requestAnalysis)
	case EventLocale:
		l, ok := locale.Parse(p.Locale)
		if !ok {
			log.Warn().Str("locale", p.Locale).Msg("Unsupported locale")
			return
		}
		a.do(func() { a.setLocale(l) })
		a.cfg.Assistant.SetLocale(l)
	case EventLogo:
		a.do(func() {
			if a.gate.Tap(a.now()) {
				a.adminOpened()
			}
		})
	case EventAdminToggle:
		a.do(func() {
			if a.gate.Toggle() {
				a.adminOpened()
			} else {
				a.dirty = true
			}
		})
	case EventAdminClose:
		a.do(func() {
			a.gate.Close()
			a.dirty = true
		})
	case EventMascot:
		a.cfg.Presence.Interact()
		a.cfg.Assistant.TogglePanel()
	case EventMic:
		a.cfg.Presence.Interact()
		a.cfg.Assistant.ToggleMic()
	case EventChat:
		a.cfg.Presence.Interact()
		a.cfg.Assistant.Submit(p.Text)
	case EventPanelClose:
		a.cfg.Assistant.ClosePanel()
	default:
		log.Debug().Str("type", env.Type).Msg("Unhandled page event")
	}
}

// ClientConnected re-sends the state to the new page.
func (a *App) ClientConnected() { a.post(func() { a.dirty = true }) }

// ClientDisconnected resets the page-hosted devices when the last page
// goes away.
func (a *App) ClientDisconnected(remaining int) {
	if remaining > 0 {
		return
	}
	a.cfg.Assistant.EnginesLost()
	a.cfg.Presence.Reset()
}

// --- Loop internals ---

func (a *App) setConsent(accepted bool) {
	if a.consent == accepted {
		return
	}
	a.consent = accepted
	a.dirty = true
	log.Info().Bool("accepted", accepted).Msg("PDPA consent changed")
	if !accepted {
		a.cfg.Presence.Reset()
	}
}

func (a *App) setLocale(l locale.Locale) {
	if a.locale == l {
		return
	}
	a.locale = l
	a.dirty = true
}

func (a *App) requestAnalysis() {
	switch {
	case !a.consent:
		log.Debug().Msg("Analysis requested before consent; ignoring")
	case a.degraded[NoticeModelUnavailable] || a.degraded[NoticeCameraDenied]:
		log.Info().Msg("Analysis requested while face analysis is unavailable")
		a.dirty = true
	case a.gate.Open():
		log.Debug().Msg("Analysis requested on the admin screen; ignoring")
	default:
		a.cfg.Presence.Interact()
		a.cfg.Presence.RequestAnalysis()
	}
}

func (a *App) adminOpened() {
	log.Info().Msg("Admin screen opened")
	a.dirty = true
	a.cfg.Presence.Reset()
	a.cfg.Assistant.ClosePanel()
}

func (a *App) applyTransition(tr presence.Transition) {
	a.mode = tr.To
	a.profile = tr.Profile
	a.dirty = true

	metrics.ModeTransitions.WithLabelValues(tr.From.String(), tr.To.String(), tr.Reason).Inc()
	metrics.New(metrics.Namespace).
		Dimension("Mode", tr.To.String()).
		Count("ModeTransition").
		Property("reason", tr.Reason).
		Flush()

	switch tr.To {
	case presence.Analyzing:
		a.faceSeen = false
		a.startPerception()
	case presence.Personalized:
		a.index = 0
	case presence.Carousel:
		a.stopPerception()
		a.index = 0
	}
}

func (a *App) startPerception() {
	if a.perceiver != nil || a.cfg.Perceiver == nil {
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	run := &perceptionRun{cancel: cancel}
	a.perceiver = run

	go func() {
		err := a.cfg.Perceiver.Run(ctx, a.emit)
		a.post(func() { a.perceptionEnded(run, err) })
	}()
	log.Debug().Msg("Perception started")
}

func (a *App) stopPerception() {
	if a.perceiver == nil {
		return
	}
	a.perceiver.cancel()
	a.perceiver = nil
	log.Debug().Msg("Perception stopped")
}

// emit runs on the perception goroutine.
func (a *App) emit(obs perception.Observation) {
	if obs.Detected {
		metrics.Observations.WithLabelValues("true").Inc()
	} else {
		metrics.Observations.WithLabelValues("false").Inc()
	}
	a.cfg.Presence.Observe(obs)
	a.post(func() {
		if a.faceSeen != obs.Detected {
			a.faceSeen = obs.Detected
			a.dirty = true
		}
	})
}

func (a *App) perceptionEnded(run *perceptionRun, err error) {
	if a.perceiver == run {
		a.perceiver = nil
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, perception.ErrModelLoadFailure):
		a.degraded[NoticeModelUnavailable] = true
	case errors.Is(err, perception.ErrCameraAccessDenied):
		a.degraded[NoticeCameraDenied] = true
	default:
		log.Warn().Err(err).Msg("Perception stopped with an error")
		a.cfg.Presence.Reset()
		return
	}
	log.Error().Err(err).Msg("Face analysis disabled")
	a.dirty = true
	a.cfg.Presence.Reset()
}

func (a *App) refreshContent() {
	svc := a.cfg.Content
	ctx := a.ctx
	go func() {
		if _, err := svc.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Content refresh failed; keeping the last list")
		}
		signal(a.contentChanged)
	}()
}

func (a *App) loadSnapshot() {
	snap := a.cfg.Content.Snapshot()
	a.items = snap.Items
	a.stale = snap.Stale()
	if a.index >= len(a.items) {
		a.index = 0
	}
	a.dirty = true
	if !a.stale {
		metrics.ContentItems.Set(float64(len(a.items)))
	}
}

func (a *App) advanceCarousel() {
	if a.mode != presence.Carousel || a.gate.Open() || !a.consent {
		return
	}
	if n := len(a.items); n > 1 {
		a.index = (a.index + 1) % n
		a.dirty = true
	}
}

func (a *App) feed() Feed {
	items := a.items
	personalized := a.mode == presence.Personalized && a.profile != nil
	if personalized {
		items = personalize.Filter(items, *a.profile)
	}
	f := Feed{Personalized: personalized, Items: make([]FeedItem, 0, len(items))}
	for _, it := range items {
		f.Items = append(f.Items, FeedItem{
			ID:          it.ID,
			Title:       it.TitleFor(a.locale),
			Description: it.DescriptionFor(a.locale),
			MediaType:   string(it.MediaType),
			MediaURL:    it.MediaURL,
		})
	}
	if !personalized && a.index < len(f.Items) {
		f.Index = a.index
	}
	return f
}

func (a *App) notices() []Notice {
	out := []Notice{}
	for _, code := range []string{NoticeModelUnavailable, NoticeCameraDenied} {
		if a.degraded[code] {
			out = append(out, newNotice(code, a.locale, true))
		}
	}
	if a.stale {
		out = append(out, newNotice(NoticeContentStale, a.locale, false))
	}
	if a.mode == presence.Analyzing {
		code := NoticeLookAtCamera
		if a.faceSeen {
			code = NoticeAnalyzing
		}
		out = append(out, newNotice(code, a.locale, false))
	}
	return out
}

func (a *App) snapshot() Snapshot {
	var profile *personalize.Profile
	if a.mode == presence.Personalized && a.profile != nil {
		p := *a.profile
		profile = &p
	}
	return Snapshot{
		Locale:          a.locale,
		ConsentRequired: !a.consent,
		Admin:           a.gate.Open(),
		Mode:            a.mode,
		Profile:         profile,
		Feed:            a.feed(),
		Notices:         a.notices(),
		Assistant:       a.cfg.Assistant.State(),
	}
}

func (a *App) publish() {
	a.dirty = false
	if a.cfg.Publisher == nil {
		return
	}
	if err := a.cfg.Publisher.Broadcast(bridge.TypeState, a.snapshot()); err != nil {
		log.Warn().Err(err).Msg("Failed to broadcast kiosk state")
	}
}
