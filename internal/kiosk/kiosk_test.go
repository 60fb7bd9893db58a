package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lannapoly/tiewson-kiosk/internal/assistant"
	"github.com/lannapoly/tiewson-kiosk/internal/bridge"
	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/media"
	"github.com/lannapoly/tiewson-kiosk/internal/perception"
	"github.com/lannapoly/tiewson-kiosk/internal/personalize"
	"github.com/lannapoly/tiewson-kiosk/internal/presence"
)

// --- Fakes ---

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) count(s string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == s {
			n++
		}
	}
	return n
}

type fakePresence struct {
	callLog
	observed chan perception.Observation
}

func (p *fakePresence) RequestAnalysis() { p.add("analyze") }
func (p *fakePresence) Interact()        { p.add("interact") }
func (p *fakePresence) Reset()           { p.add("reset") }
func (p *fakePresence) Observe(obs perception.Observation) {
	select {
	case p.observed <- obs:
	default:
	}
}

type fakePerceiver struct {
	err     error
	started chan func(perception.Observation)
	stopped chan struct{}
}

func (f *fakePerceiver) Run(ctx context.Context, emit func(perception.Observation)) error {
	f.started <- emit
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	f.stopped <- struct{}{}
	return nil
}

type fakeAssistant struct{ callLog }

func (f *fakeAssistant) RecognizerStarted(k assistant.RecognizerKind) { f.add("started:" + string(k)) }
func (f *fakeAssistant) RecognizerResult(k assistant.RecognizerKind, t string) {
	f.add("result:" + string(k) + ":" + t)
}
func (f *fakeAssistant) RecognizerError(k assistant.RecognizerKind, code, _ string) {
	f.add("error:" + string(k) + ":" + code)
}
func (f *fakeAssistant) RecognizerEnded(k assistant.RecognizerKind) { f.add("ended:" + string(k)) }
func (f *fakeAssistant) UtteranceEnded(id string)                   { f.add("uend:" + id) }
func (f *fakeAssistant) UtteranceFailed(id, code string)            { f.add("ufail:" + id) }
func (f *fakeAssistant) State() assistant.State                     { return assistant.State{Turns: []assistant.Turn{}} }
func (f *fakeAssistant) TogglePanel()                               { f.add("togglePanel") }
func (f *fakeAssistant) ClosePanel()                                { f.add("closePanel") }
func (f *fakeAssistant) ToggleMic()                                 { f.add("toggleMic") }
func (f *fakeAssistant) Submit(text string)                         { f.add("submit:" + text) }
func (f *fakeAssistant) SetLocale(l locale.Locale)                  { f.add("locale:" + string(l)) }
func (f *fakeAssistant) EnginesLost()                               { f.add("enginesLost") }

type recordingPublisher struct {
	mu    sync.Mutex
	count int
	last  Snapshot
}

func (p *recordingPublisher) Broadcast(typ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if typ == bridge.TypeState {
		p.count++
		p.last = payload.(Snapshot)
	}
	return nil
}

type failingRepo struct{}

func (failingRepo) List(context.Context) ([]content.Item, error) {
	return nil, errors.New("connection refused")
}
func (failingRepo) Insert(context.Context, content.Draft) (string, error) {
	return "", errors.New("connection refused")
}
func (failingRepo) Delete(context.Context, string) error { return errors.New("connection refused") }

// --- Harness ---

type harness struct {
	app       *App
	presence  *fakePresence
	perceiver *fakePerceiver
	assistant *fakeAssistant
	pub       *recordingPublisher
	carousel  chan time.Time
	clock     time.Time
}

func newHarness(t *testing.T, repo content.Repository, mutate func(*Config)) *harness {
	t.Helper()
	svc := content.NewService(repo, nil)
	h := &harness{
		presence:  &fakePresence{observed: make(chan perception.Observation, 8)},
		perceiver: &fakePerceiver{started: make(chan func(perception.Observation), 1), stopped: make(chan struct{}, 1)},
		assistant: &fakeAssistant{},
		pub:       &recordingPublisher{},
		carousel:  make(chan time.Time),
		clock:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	cfg := Config{
		Content:   svc,
		Presence:  h.presence,
		Perceiver: h.perceiver,
		Assistant: h.assistant,
		Publisher: h.pub,
		Locale:    locale.Thai,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.app = New(cfg)
	h.app.now = func() time.Time { return h.clock }
	h.app.newTicker = func(d time.Duration) (<-chan time.Time, func()) {
		if d == CarouselInterval {
			return h.carousel, func() {}
		}
		return make(chan time.Time), func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.app.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func seeded(t *testing.T) content.Repository {
	t.Helper()
	repo := content.NewMemoryRepository()
	drafts := []content.Draft{
		{Title: locale.Text{locale.Thai: "ข่าวทั่วไป", locale.English: "General news"}, MediaType: media.KindImage, MediaURL: "https://cdn.example/a.jpg"},
		{Title: locale.Text{locale.English: "For women"}, MediaType: media.KindImage, MediaURL: "https://cdn.example/b.jpg", TargetGender: content.TargetFemale},
		{Title: locale.Text{locale.Untranslated: "Teen promo"}, MediaType: media.KindVideo, MediaURL: "https://cdn.example/c.mp4", TargetAgeMin: content.IntPtr(13), TargetAgeMax: content.IntPtr(19)},
	}
	for _, d := range drafts {
		if _, err := repo.Insert(context.Background(), d); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	return repo
}

// waitSnapshot polls until cond holds.
func (h *harness) waitSnapshot(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := h.app.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s: %+v", what, h.app.Snapshot())
	return Snapshot{}
}

func (h *harness) event(typ string, payload any) {
	env := bridge.Envelope{Type: typ}
	if payload != nil {
		env.Payload, _ = json.Marshal(payload)
	}
	h.app.HandleEvent(env)
}

func titles(f Feed) string {
	var out []string
	for _, it := range f.Items {
		out = append(out, it.Title)
	}
	return strings.Join(out, "|")
}

func hasNotice(s Snapshot, code string) bool {
	for _, n := range s.Notices {
		if n.Code == code {
			return true
		}
	}
	return false
}

// --- Tests ---

func TestStartupPublishesFeed(t *testing.T) {
	h := newHarness(t, seeded(t), nil)
	s := h.waitSnapshot(t, "content", func(s Snapshot) bool { return len(s.Feed.Items) == 3 })

	if got := titles(s.Feed); got != "Teen promo|For women|ข่าวทั่วไป" {
		t.Errorf("feed = %s", got)
	}
	if !s.ConsentRequired || s.Mode != presence.Carousel || s.Feed.Personalized {
		t.Errorf("unexpected snapshot %+v", s)
	}
	h.pub.mu.Lock()
	published := h.pub.count
	h.pub.mu.Unlock()
	if published == 0 {
		t.Error("nothing broadcast")
	}
}

func TestCarouselAdvancesAfterConsent(t *testing.T) {
	h := newHarness(t, seeded(t), nil)
	h.waitSnapshot(t, "content", func(s Snapshot) bool { return len(s.Feed.Items) == 3 })

	h.carousel <- time.Now()
	if s := h.app.Snapshot(); s.Feed.Index != 0 {
		t.Fatalf("carousel advanced behind the consent notice")
	}

	h.event(EventConsent, map[string]bool{"accepted": true})
	for want := 1; want <= 3; want++ {
		h.carousel <- time.Now()
		if s := h.app.Snapshot(); s.Feed.Index != want%3 {
			t.Fatalf("tick %d: index = %d", want, s.Feed.Index)
		}
	}
}

func TestAnalyzeRequiresConsent(t *testing.T) {
	h := newHarness(t, seeded(t), nil)
	h.event(EventAnalyze, nil)
	if h.presence.count("analyze") != 0 {
		t.Fatal("analysis started before consent")
	}
	h.event(EventConsent, map[string]bool{"accepted": true})
	h.event(EventAnalyze, nil)
	if h.presence.count("analyze") != 1 {
		t.Fatal("analysis not requested")
	}
}

func TestPerceptionFollowsMode(t *testing.T) {
	h := newHarness(t, seeded(t), func(c *Config) { c.SkipConsent = true })
	h.waitSnapshot(t, "content", func(s Snapshot) bool { return len(s.Feed.Items) == 3 })
	at := time.Now()

	h.app.OnTransition(presence.Transition{From: presence.Carousel, To: presence.Analyzing, Reason: presence.ReasonAnalysisRequested, At: at})
	var emit func(perception.Observation)
	select {
	case emit = <-h.perceiver.started:
	case <-time.After(2 * time.Second):
		t.Fatal("perception not started in Analyzing")
	}
	if s := h.app.Snapshot(); !hasNotice(s, NoticeLookAtCamera) {
		t.Errorf("notices = %+v", s.Notices)
	}

	obs := perception.Observation{Detected: true, Gender: personalize.Male, Age: 16, Confidence: 0.9}
	emit(obs)
	select {
	case got := <-h.presence.observed:
		if got.Age != 16 {
			t.Errorf("observed %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observation not forwarded to presence")
	}
	h.waitSnapshot(t, "face hint", func(s Snapshot) bool { return hasNotice(s, NoticeAnalyzing) })

	profile := obs.Profile()
	h.app.OnTransition(presence.Transition{From: presence.Analyzing, To: presence.Personalized, Reason: presence.ReasonProfileSettled, At: at, Profile: &profile})
	s := h.app.Snapshot()
	if !s.Feed.Personalized || s.Profile == nil || titles(s.Feed) != "Teen promo|ข่าวทั่วไป" {
		t.Fatalf("personalized feed = %s (%+v)", titles(s.Feed), s.Profile)
	}

	h.app.OnTransition(presence.Transition{From: presence.Personalized, To: presence.Carousel, Reason: presence.ReasonPresenceTimeout, At: at})
	select {
	case <-h.perceiver.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("perception not stopped in Carousel")
	}
	s = h.app.Snapshot()
	if s.Profile != nil || s.Feed.Personalized || len(s.Feed.Items) != 3 {
		t.Fatalf("profile survived the timeout: %+v", s)
	}
}

func TestPerceptionFailuresDegradePersistently(t *testing.T) {
	tests := []struct {
		err    error
		notice string
	}{
		{fmt.Errorf("%w: weights missing", perception.ErrModelLoadFailure), NoticeModelUnavailable},
		{fmt.Errorf("%w: NotAllowedError", perception.ErrCameraAccessDenied), NoticeCameraDenied},
	}
	for _, tt := range tests {
		t.Run(tt.notice, func(t *testing.T) {
			h := newHarness(t, content.NewMemoryRepository(), func(c *Config) { c.SkipConsent = true })
			h.perceiver.err = tt.err

			h.app.OnTransition(presence.Transition{From: presence.Carousel, To: presence.Analyzing})
			<-h.perceiver.started
			s := h.waitSnapshot(t, "degraded notice", func(s Snapshot) bool { return hasNotice(s, tt.notice) })
			if !s.Notices[0].Persistent {
				t.Errorf("notice not persistent: %+v", s.Notices[0])
			}
			if h.presence.count("reset") != 1 {
				t.Errorf("presence not reset")
			}

			h.event(EventAnalyze, nil)
			if h.presence.count("analyze") != 0 {
				t.Error("analysis retried while degraded")
			}

			h.event(EventLocale, map[string]string{"locale": "en"})
			s = h.app.Snapshot()
			if s.Locale != locale.English || !strings.HasPrefix(s.Notices[0].Text, "Face analysis") && !strings.HasPrefix(s.Notices[0].Text, "Camera") {
				t.Errorf("notice not localized: %+v", s.Notices[0])
			}
			if h.assistant.count("locale:en") != 1 {
				t.Error("assistant locale not switched")
			}
		})
	}
}

func TestStaleContentNotice(t *testing.T) {
	h := newHarness(t, failingRepo{}, nil)
	s := h.waitSnapshot(t, "stale notice", func(s Snapshot) bool { return hasNotice(s, NoticeContentStale) })
	if len(s.Feed.Items) != 0 {
		t.Errorf("items = %+v", s.Feed.Items)
	}
}

func TestAdminGesture(t *testing.T) {
	h := newHarness(t, seeded(t), nil)

	for i := 0; i < 4; i++ {
		h.event(EventLogo, nil)
		h.clock = h.clock.Add(1900 * time.Millisecond)
	}
	h.clock = h.clock.Add(300 * time.Millisecond) // 2.2s gap: sequence restarts
	h.event(EventLogo, nil)
	if h.app.Snapshot().Admin {
		t.Fatal("admin opened despite a slow tap")
	}

	for i := 0; i < 4; i++ {
		h.clock = h.clock.Add(time.Second)
		h.event(EventLogo, nil)
	}
	if !h.app.Snapshot().Admin {
		t.Fatal("admin not opened after five quick taps")
	}
	if h.presence.count("reset") != 1 || h.assistant.count("closePanel") != 1 {
		t.Errorf("opening admin did not override presence and the assistant")
	}

	h.event(EventAdminToggle, nil)
	if h.app.Snapshot().Admin {
		t.Fatal("Alt+A did not close admin")
	}
	h.event(EventAdminToggle, nil)
	if !h.app.Snapshot().Admin {
		t.Fatal("Alt+A did not open admin")
	}
	h.event(EventAdminClose, nil)
	if h.app.Snapshot().Admin {
		t.Fatal("admin not closed")
	}
}

func TestAssistantEventsRouted(t *testing.T) {
	h := newHarness(t, content.NewMemoryRepository(), nil)
	h.event(bridge.TypeRecognizerResult, bridge.RecognizerEvent{Recognizer: "wake", Transcript: "ทิวสน"})
	h.event(bridge.TypeSpeechEnded, bridge.SpeechEvent{ID: "u1-0"})
	h.event(EventMascot, nil)
	h.event(EventMic, nil)
	h.event(EventChat, map[string]string{"text": "สาขา"})
	h.event(EventPanelClose, nil)

	for _, want := range []string{"result:wake:ทิวสน", "uend:u1-0", "togglePanel", "toggleMic", "submit:สาขา", "closePanel"} {
		if h.assistant.count(want) != 1 {
			t.Errorf("assistant missing %q: %v", want, h.assistant.calls)
		}
	}
	if h.presence.count("interact") != 3 {
		t.Errorf("interactions = %d, want 3", h.presence.count("interact"))
	}
}

func TestLastPageDisconnect(t *testing.T) {
	h := newHarness(t, content.NewMemoryRepository(), nil)
	h.app.ClientDisconnected(1)
	if h.assistant.count("enginesLost") != 0 {
		t.Fatal("engines reset while a page is still connected")
	}
	h.app.ClientDisconnected(0)
	if h.assistant.count("enginesLost") != 1 || h.presence.count("reset") != 1 {
		t.Fatal("devices not reset after the last page left")
	}
}

func TestAdminGateUnit(t *testing.T) {
	var g AdminGate
	t0 := time.Unix(0, 0)
	for i := 0; i < 4; i++ {
		if g.Tap(t0.Add(time.Duration(i) * AdminTapWindow)) {
			t.Fatalf("opened after %d taps", i+1)
		}
	}
	if !g.Tap(t0.Add(4 * AdminTapWindow)) {
		t.Fatal("taps exactly one window apart should count")
	}
	if g.Tap(t0.Add(5 * AdminTapWindow)) {
		t.Fatal("a single tap reopened")
	}
}
