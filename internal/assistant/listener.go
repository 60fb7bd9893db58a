package assistant

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// RecognizerKind names one of the two speech recognizers.
type RecognizerKind string

const (
	// Wake is the continuous recognizer listening for the wake phrase.
	Wake RecognizerKind = "wake"
	// Chat is the single-shot recognizer started from the mic button.
	Chat RecognizerKind = "chat"
)

// RecognizerOptions configures one recognition session.
type RecognizerOptions struct {
	Lang           string `json:"lang"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interimResults"`
}

// Recognizer drives a speech recognition engine. Start and Stop only issue
// commands; the engine reports back through Controller.RecognizerStarted,
// RecognizerResult, RecognizerError and RecognizerEnded.
type Recognizer interface {
	Start(opts RecognizerOptions) error
	Stop() error
}

// RecognitionError is an error reported by a recognition engine.
type RecognitionError struct {
	Kind    RecognizerKind
	Code    string
	Message string
}

func (e *RecognitionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s recognizer: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s recognizer: %s: %s", e.Kind, e.Code, e.Message)
}

// Benign reports whether the error is routine: silence, an abort we
// asked for, or a momentarily busy microphone.
func (e *RecognitionError) Benign() bool {
	switch e.Code {
	case "no-speech", "aborted", "audio-capture":
		return true
	}
	return false
}

// ListenerState is the lifecycle of one recognizer.
type ListenerState int

const (
	Idle ListenerState = iota
	Starting
	Active
	Stopping
)

func (s ListenerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// listener tracks one recognizer. It only moves on engine events and on
// reconcile calls from the controller loop, so it needs no locking.
type listener struct {
	kind  RecognizerKind
	rec   Recognizer
	state ListenerState
}

// running reports whether the engine may be holding the microphone.
func (l *listener) running() bool { return l.state != Idle }

// reconcile issues at most one command to move toward want. A listener
// in Starting or Stopping waits for the engine before acting again.
// A failed start leaves the listener Idle and returns the error.
func (l *listener) reconcile(want bool, opts RecognizerOptions) error {
	switch {
	case want && l.state == Idle:
		if err := l.rec.Start(opts); err != nil {
			return fmt.Errorf("start %s recognizer: %w", l.kind, err)
		}
		l.state = Starting
		log.Debug().Str("recognizer", string(l.kind)).Str("lang", opts.Lang).Msg("Recognizer starting")
	case !want && (l.state == Starting || l.state == Active):
		if err := l.rec.Stop(); err != nil {
			log.Warn().Err(err).Str("recognizer", string(l.kind)).Msg("Failed to stop recognizer")
		}
		l.state = Stopping
		log.Debug().Str("recognizer", string(l.kind)).Msg("Recognizer stopping")
	}
	return nil
}

func (l *listener) started() {
	if l.state == Stopping {
		return
	}
	l.state = Active
}

func (l *listener) ended() { l.state = Idle }
