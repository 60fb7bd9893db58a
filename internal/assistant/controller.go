// Package assistant is the kiosk's voice assistant: wake phrase
// detection, chat capture, replies from a completion API with a canned
// fallback, and spoken output.
//
// All state lives on the Controller's loop goroutine. Engine callbacks,
// timers and completion results are delivered to it as events, so the
// two recognizers and the synthesizer are sequenced without locks.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/completion"
	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/metrics"
)

// Wake listener restart policy.
const (
	WakeRestartDelay   = 1500 * time.Millisecond
	WakeBackoffInitial = 2 * time.Second
	WakeBackoffMax     = 30 * time.Second
	MaxWakeFailures    = 8
)

// Turn sources.
const (
	SourceGreeting   = "greeting"
	SourceCompletion = "completion"
	SourceFallback   = "fallback"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation.
type Turn struct {
	Role   Role   `json:"role"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// State is a snapshot of the assistant for the page.
type State struct {
	Locale        locale.Locale `json:"locale"`
	PanelOpen     bool          `json:"panelOpen"`
	Wake          string        `json:"wake"`
	Chat          string        `json:"chat"`
	WakeSuspended bool          `json:"wakeSuspended"`
	Processing    bool          `json:"processing"`
	Speaking      bool          `json:"speaking"`
	Turns         []Turn        `json:"turns"`
}

// Config wires a Controller.
type Config struct {
	Completer   completion.Completer
	Wake        Recognizer
	Chat        Recognizer
	Synthesizer Synthesizer
	Locale      locale.Locale
	// ConstrainedDevice enables the SpeechCeiling.
	ConstrainedDevice bool
	// OnChange receives every new State on the loop goroutine. It must
	// not block and must not call back into the Controller.
	OnChange func(State)
	// Scheduler defaults to wall-clock timers.
	Scheduler Scheduler
}

type request struct {
	fn   func()
	done chan struct{}
}

// Controller is the assistant's turn-taking state machine.
type Controller struct {
	cfg     Config
	sched   Scheduler
	inbox   chan request
	stopped chan struct{}
	ctx     context.Context
	state   atomic.Pointer[State]

	bundle *Bundle
	wake   listener
	chat   listener

	panelOpen  bool
	chatWanted bool
	processing bool
	session    uint64
	turns      []Turn
	turnsRev   uint64
	lastKey    stateKey
	published  bool

	wakeTimer     Timer
	wakeTimerSeq  uint64
	wakeFailures  int
	wakeErrored   bool
	wakeSuspended bool
	wakeBackoff   *backoff.ExponentialBackOff

	speechGen   uint64
	speechQueue []string
	speechNext  int
	speechID    string
	speechLang  string
	speaking    bool
	ceiling     Timer
}

// New creates a Controller. Nothing happens until Run.
func New(cfg Config) *Controller {
	if cfg.Scheduler == nil {
		cfg.Scheduler = realScheduler{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = WakeBackoffInitial
	b.MaxInterval = WakeBackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	c := &Controller{
		cfg:         cfg,
		sched:       cfg.Scheduler,
		inbox:       make(chan request, 64),
		stopped:     make(chan struct{}),
		ctx:         context.Background(),
		bundle:      BundleFor(cfg.Locale),
		wake:        listener{kind: Wake, rec: cfg.Wake},
		chat:        listener{kind: Chat, rec: cfg.Chat},
		wakeBackoff: b,
	}
	c.state.Store(&State{Locale: c.bundle.Locale, Wake: Idle.String(), Chat: Idle.String(), Turns: []Turn{}})
	return c
}

// Run processes events until ctx is cancelled, then stops both
// recognizers and any speech.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.stopped)

	c.reconcile()
	c.publish()

	for {
		select {
		case r := <-c.inbox:
			r.fn()
			c.publish()
			if r.done != nil {
				close(r.done)
			}
		case <-ctx.Done():
			c.shutdown()
			return nil
		}
	}
}

// State returns the latest snapshot.
func (c *Controller) State() State { return *c.state.Load() }

// do runs fn on the loop and waits until it and the resulting publish
// have finished.
func (c *Controller) do(fn func()) {
	done := make(chan struct{})
	select {
	case c.inbox <- request{fn: fn, done: done}:
	case <-c.stopped:
		return
	}
	select {
	case <-done:
	case <-c.stopped:
	}
}

// post queues fn without waiting. Used by timers and background work.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- request{fn: fn}:
	case <-c.stopped:
	}
}

// --- UI inputs ---

// OpenPanel opens the panel without a greeting (mascot button).
func (c *Controller) OpenPanel() { c.do(func() { c.openPanel(false) }) }

// ClosePanel closes the panel, cancelling speech and chat capture.
func (c *Controller) ClosePanel() { c.do(c.closePanel) }

// TogglePanel opens or closes the panel.
func (c *Controller) TogglePanel() {
	c.do(func() {
		if c.panelOpen {
			c.closePanel()
		} else {
			c.openPanel(false)
		}
	})
}

// ToggleMic starts chat capture, or stops it if it is running.
func (c *Controller) ToggleMic() {
	c.do(func() {
		if c.chatWanted || c.chat.running() {
			c.chatWanted = false
			c.reconcile()
			return
		}
		c.startChat()
	})
}

// Submit sends typed text through the reply pipeline.
func (c *Controller) Submit(text string) { c.do(func() { c.submit(text) }) }

// SetLocale switches every locale-dependent string and tag at once.
func (c *Controller) SetLocale(l locale.Locale) {
	c.do(func() {
		b := BundleFor(l)
		if b == c.bundle {
			return
		}
		c.bundle = b
		log.Info().Str("locale", string(b.Locale)).Msg("Assistant locale changed")
	})
}

// --- Engine events ---

// RecognizerStarted reports that an engine began capturing audio.
func (c *Controller) RecognizerStarted(kind RecognizerKind) {
	c.do(func() { c.listenerFor(kind).started() })
}

// RecognizerResult delivers a final transcript.
func (c *Controller) RecognizerResult(kind RecognizerKind, transcript string) {
	c.do(func() {
		switch kind {
		case Wake:
			c.wakeResult(transcript)
		case Chat:
			c.chatResult(transcript)
		}
	})
}

// RecognizerError reports an engine error. The engine still sends an end
// event afterwards.
func (c *Controller) RecognizerError(kind RecognizerKind, code, message string) {
	c.do(func() { c.recognizerError(&RecognitionError{Kind: kind, Code: code, Message: message}) })
}

// RecognizerEnded reports that an engine released the microphone.
func (c *Controller) RecognizerEnded(kind RecognizerKind) {
	c.do(func() { c.recognizerEnded(kind) })
}

// UtteranceEnded reports that the utterance with id finished playing.
func (c *Controller) UtteranceEnded(id string) {
	c.do(func() { c.utteranceEnded(id) })
}

// UtteranceFailed reports a synthesis error for id.
func (c *Controller) UtteranceFailed(id, code string) {
	c.do(func() {
		if !c.speaking || id != c.speechID {
			return
		}
		log.Warn().Str("utterance", id).Str("code", code).Msg("Speech synthesis failed")
		c.finishSpeech()
	})
}

// EnginesLost resets both recognizers and the synthesizer to idle after
// the page that hosts them went away without reporting their end.
func (c *Controller) EnginesLost() {
	c.do(func() {
		c.wake.ended()
		c.chat.ended()
		c.chatWanted = false
		c.finishSpeech()
		if c.shouldWake() {
			c.scheduleWakeRestart(WakeRestartDelay)
		}
		log.Warn().Msg("Speech engines lost; waiting for the page to reconnect")
	})
}

// --- Loop internals ---

func (c *Controller) listenerFor(kind RecognizerKind) *listener {
	if kind == Chat {
		return &c.chat
	}
	return &c.wake
}

// shouldWake reports whether wake listening is wanted at all.
func (c *Controller) shouldWake() bool {
	return !c.panelOpen && !c.chatWanted && !c.wakeSuspended
}

// reconcile moves both listeners toward the wanted state. Wake starts
// only when chat is idle and chat starts only when wake is idle; a
// listener that is still stopping holds the other back until its end
// event arrives.
func (c *Controller) reconcile() {
	wantWake := c.shouldWake() && !c.chat.running() && c.wakeTimer == nil
	if err := c.wake.reconcile(wantWake, RecognizerOptions{Lang: WakeLanguage, Continuous: true}); err != nil {
		log.Warn().Err(err).Msg("Wake listening failed to start")
		metrics.RecognizerErrors.WithLabelValues(string(Wake), "start-failed").Inc()
		c.wakeFailed()
		if !c.wakeSuspended {
			c.scheduleWakeRestart(c.wakeBackoff.NextBackOff())
		}
	}

	wantChat := c.panelOpen && c.chatWanted && !c.wake.running()
	if err := c.chat.reconcile(wantChat, RecognizerOptions{Lang: c.bundle.RecognitionTag}); err != nil {
		log.Warn().Err(err).Msg("Chat capture failed to start")
		metrics.RecognizerErrors.WithLabelValues(string(Chat), "start-failed").Inc()
		c.chatWanted = false
	}
}

func (c *Controller) openPanel(greet bool) {
	if c.panelOpen {
		return
	}
	c.panelOpen = true
	c.cancelWakeRestart()
	c.reconcile()
	log.Info().Bool("greet", greet).Msg("Assistant panel opened")

	if greet {
		c.session++
		c.processing = false
		c.turns = nil
		c.appendTurn(Turn{Role: RoleAssistant, Text: c.bundle.Greeting, Source: SourceGreeting})
		c.speak(c.bundle.Greeting)
	}
}

func (c *Controller) closePanel() {
	if !c.panelOpen {
		return
	}
	c.panelOpen = false
	c.chatWanted = false
	c.cancelSpeech()

	// Closing ends the conversation; a reply still in flight is dropped.
	c.session++
	c.processing = false
	c.turns = nil
	c.turnsRev++

	c.wakeFailures = 0
	c.wakeErrored = false
	c.wakeSuspended = false
	c.wakeBackoff.Reset()

	c.reconcile()
	log.Info().Msg("Assistant panel closed")
}

func (c *Controller) startChat() {
	if !c.panelOpen {
		log.Debug().Msg("Mic pressed with the panel closed; ignoring")
		return
	}
	c.cancelSpeech()
	c.chatWanted = true
	c.reconcile()
}

func (c *Controller) wakeResult(transcript string) {
	c.wakeFailures = 0
	c.wakeBackoff.Reset()
	if c.panelOpen || !MatchWake(transcript, WakePhrases) {
		log.Debug().Str("transcript", transcript).Msg("Wake transcript ignored")
		return
	}
	log.Info().Str("transcript", transcript).Msg("Wake phrase detected")
	c.openPanel(true)
}

func (c *Controller) chatResult(transcript string) {
	c.chatWanted = false
	c.reconcile()
	c.submit(transcript)
}

func (c *Controller) recognizerError(e *RecognitionError) {
	metrics.RecognizerErrors.WithLabelValues(string(e.Kind), e.Code).Inc()
	if e.Benign() {
		log.Debug().Str("recognizer", string(e.Kind)).Str("code", e.Code).Msg("Recognizer stopped")
		return
	}
	log.Warn().Err(e).Msg("Recognizer error")
	switch e.Kind {
	case Wake:
		c.wakeErrored = true
		c.wakeFailed()
	case Chat:
		c.chatWanted = false
	}
}

// wakeFailed counts one non-benign wake failure and suspends wake
// listening once MaxWakeFailures is reached.
func (c *Controller) wakeFailed() {
	c.wakeFailures++
	if c.wakeFailures >= MaxWakeFailures && !c.wakeSuspended {
		c.wakeSuspended = true
		c.cancelWakeRestart()
		log.Error().Int("failures", c.wakeFailures).Msg("Wake listening suspended until the assistant panel is closed")
	}
}

func (c *Controller) recognizerEnded(kind RecognizerKind) {
	l := c.listenerFor(kind)
	if !l.running() {
		return
	}
	l.ended()

	switch kind {
	case Wake:
		if c.shouldWake() {
			delay := WakeRestartDelay
			if c.wakeErrored {
				delay = c.wakeBackoff.NextBackOff()
			}
			c.scheduleWakeRestart(delay)
		}
		c.wakeErrored = false
	case Chat:
		c.chatWanted = false
	}
	c.reconcile()
}

func (c *Controller) scheduleWakeRestart(d time.Duration) {
	c.cancelWakeRestart()
	if c.wakeSuspended {
		return
	}
	seq := c.wakeTimerSeq
	c.wakeTimer = c.sched.AfterFunc(d, func() {
		c.post(func() {
			if seq != c.wakeTimerSeq {
				return
			}
			c.wakeTimer = nil
			c.reconcile()
		})
	})
	log.Debug().Dur("delay", d).Msg("Wake listening restart scheduled")
}

func (c *Controller) cancelWakeRestart() {
	c.wakeTimerSeq++
	if c.wakeTimer != nil {
		c.wakeTimer.Stop()
		c.wakeTimer = nil
	}
}

// --- Reply pipeline ---

func (c *Controller) submit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.processing {
		log.Debug().Msg("Reply in progress; submission ignored")
		return
	}
	if !c.panelOpen {
		c.openPanel(false)
	}
	c.appendTurn(Turn{Role: RoleUser, Text: text})
	c.processing = true

	b, session := c.bundle, c.session
	if c.cfg.Completer == nil {
		c.finishReply(session, b, text, "", completion.ErrEmptyCompletion)
		return
	}
	req := completion.Request{SystemInstruction: b.SystemInstruction, UserText: text, Language: string(b.Locale)}
	ctx := c.ctx
	go func() {
		reply, err := c.cfg.Completer.Complete(ctx, req)
		c.post(func() { c.finishReply(session, b, text, reply, err) })
	}()
}

// finishReply appends exactly one assistant turn for a submission and
// speaks it. Any completion failure resolves to the canned fallback of
// the bundle the request was made with.
func (c *Controller) finishReply(session uint64, b *Bundle, userText, reply string, err error) {
	if session != c.session {
		log.Debug().Msg("Dropping reply for a finished conversation")
		return
	}
	c.processing = false

	source := SourceCompletion
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		log.Warn().Err(err).Str("locale", string(b.Locale)).Msg("Completion failed; using canned reply")
		reply = b.Fallback(userText)
		source = SourceFallback
	}
	metrics.AssistantReplies.WithLabelValues(source).Inc()

	c.appendTurn(Turn{Role: RoleAssistant, Text: reply, Source: source})
	if c.panelOpen {
		c.speakIn(reply, b.SynthesisTag)
	}
}

func (c *Controller) appendTurn(t Turn) {
	c.turns = append(c.turns, t)
	c.turnsRev++
}

// --- Speech ---

func (c *Controller) speak(text string) { c.speakIn(text, c.bundle.SynthesisTag) }

// speakIn replaces any current speech with text, played chunk by chunk.
func (c *Controller) speakIn(text, lang string) {
	c.cancelSpeech()
	chunks := SplitSpeech(text, ChunkBudget)
	if len(chunks) == 0 {
		return
	}
	c.speechGen++
	c.speechQueue = chunks
	c.speechNext = 0
	c.speechLang = lang
	c.speaking = true

	if c.cfg.ConstrainedDevice {
		gen := c.speechGen
		c.ceiling = c.sched.AfterFunc(SpeechCeiling, func() {
			c.post(func() {
				if gen != c.speechGen || !c.speaking {
					return
				}
				log.Warn().Dur("ceiling", SpeechCeiling).Msg("Speech did not finish; cancelling")
				c.cancelSpeech()
			})
		})
	}
	c.sendChunk()
}

func (c *Controller) sendChunk() {
	c.speechID = fmt.Sprintf("u%d-%d", c.speechGen, c.speechNext)
	u := Utterance{
		ID:     c.speechID,
		Text:   c.speechQueue[c.speechNext],
		Lang:   c.speechLang,
		Rate:   SpeechRate,
		Pitch:  SpeechPitch,
		Volume: SpeechVolume,
	}
	if err := c.cfg.Synthesizer.Speak(u); err != nil {
		log.Warn().Err(err).Str("utterance", u.ID).Msg("Failed to send utterance")
		c.finishSpeech()
	}
}

func (c *Controller) utteranceEnded(id string) {
	if !c.speaking || id != c.speechID {
		return
	}
	c.speechNext++
	if c.speechNext < len(c.speechQueue) {
		c.sendChunk()
		return
	}
	c.finishSpeech()
}

func (c *Controller) cancelSpeech() {
	if !c.speaking {
		return
	}
	if err := c.cfg.Synthesizer.Cancel(); err != nil {
		log.Warn().Err(err).Msg("Failed to cancel speech")
	}
	c.finishSpeech()
}

func (c *Controller) finishSpeech() {
	c.speaking = false
	c.speechQueue = nil
	c.speechNext = 0
	c.speechID = ""
	if c.ceiling != nil {
		c.ceiling.Stop()
		c.ceiling = nil
	}
}

func (c *Controller) shutdown() {
	c.cancelWakeRestart()
	c.cancelSpeech()
	c.chatWanted = false
	c.panelOpen = false
	c.wakeSuspended = true
	_ = c.wake.reconcile(false, RecognizerOptions{})
	_ = c.chat.reconcile(false, RecognizerOptions{})
	log.Info().Msg("Assistant stopped")
}

// --- State publishing ---

type stateKey struct {
	locale        locale.Locale
	panelOpen     bool
	wake, chat    ListenerState
	wakeSuspended bool
	processing    bool
	speaking      bool
	turnsRev      uint64
}

func (c *Controller) publish() {
	key := stateKey{
		locale:        c.bundle.Locale,
		panelOpen:     c.panelOpen,
		wake:          c.wake.state,
		chat:          c.chat.state,
		wakeSuspended: c.wakeSuspended,
		processing:    c.processing,
		speaking:      c.speaking,
		turnsRev:      c.turnsRev,
	}
	if c.published && key == c.lastKey {
		return
	}
	c.lastKey = key
	c.published = true

	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	s := State{
		Locale:        key.locale,
		PanelOpen:     key.panelOpen,
		Wake:          key.wake.String(),
		Chat:          key.chat.String(),
		WakeSuspended: key.wakeSuspended,
		Processing:    key.processing,
		Speaking:      key.speaking,
		Turns:         turns,
	}
	c.state.Store(&s)
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(s)
	}
}
