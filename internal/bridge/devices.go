package bridge

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/assistant"
	"github.com/lannapoly/tiewson-kiosk/internal/perception"
)

// Fault codes the page reports when camera permission is refused.
var deniedCodes = map[string]bool{
	"NotAllowedError":  true,
	"SecurityError":    true,
	"PermissionDenied": true,
	"denied":           true,
}

// --- Camera ---

// Camera is the page's camera.
type Camera struct{ hub *Hub }

var _ perception.Camera = (*Camera)(nil)

// NewCamera returns the camera of the primary page.
func NewCamera(h *Hub) *Camera { return &Camera{hub: h} }

// Open asks the page to start its camera.
func (c *Camera) Open(ctx context.Context) (perception.Stream, error) {
	env, err := c.hub.Request(ctx, TypeCameraOpen, nil)
	if err != nil {
		var f *Fault
		if errors.As(err, &f) && deniedCodes[f.Code] {
			return nil, fmt.Errorf("%w: %s", perception.ErrCameraAccessDenied, f.Error())
		}
		return nil, fmt.Errorf("open page camera: %w", err)
	}
	return &cameraStream{hub: c.hub, session: CameraSession{Session: env.ID}}, nil
}

// cameraStream is one open of the page camera. A close from an earlier
// stream may reach the page after a newer open, so every command names
// its session.
type cameraStream struct {
	hub     *Hub
	session CameraSession
}

func (s *cameraStream) Capture(ctx context.Context) (image.Image, error) {
	env, err := s.hub.Request(ctx, TypeCameraCapture, s.session)
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	var f Frame
	if err := env.Decode(&f); err != nil {
		return nil, err
	}
	return perception.DecodeFrame(f.Image)
}

func (s *cameraStream) Close() error {
	err := s.hub.Send(TypeCameraClose, s.session)
	if errors.Is(err, ErrNoClient) {
		return nil
	}
	return err
}

// --- Speech ---

// Recognizer is one of the page's speech recognizers.
type Recognizer struct {
	hub  *Hub
	kind assistant.RecognizerKind
}

var _ assistant.Recognizer = (*Recognizer)(nil)

// NewRecognizer returns the page recognizer for kind.
func NewRecognizer(h *Hub, kind assistant.RecognizerKind) *Recognizer {
	return &Recognizer{hub: h, kind: kind}
}

func (r *Recognizer) Start(opts assistant.RecognizerOptions) error {
	return r.hub.Send(TypeRecognizerStart, RecognizerCommand{
		Recognizer:     string(r.kind),
		Lang:           opts.Lang,
		Continuous:     opts.Continuous,
		InterimResults: opts.InterimResults,
	})
}

func (r *Recognizer) Stop() error {
	return r.hub.Send(TypeRecognizerStop, RecognizerCommand{Recognizer: string(r.kind)})
}

// Synthesizer is the page's speech synthesis engine.
type Synthesizer struct{ hub *Hub }

var _ assistant.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer returns the page synthesizer.
func NewSynthesizer(h *Hub) *Synthesizer { return &Synthesizer{hub: h} }

func (s *Synthesizer) Speak(u assistant.Utterance) error {
	return s.hub.Send(TypeSpeechSpeak, u)
}

func (s *Synthesizer) Cancel() error {
	return s.hub.Send(TypeSpeechCancel, nil)
}

// --- Inbound speech events ---

// SpeechEvents receives the page's recognizer and synthesizer events.
// *assistant.Controller implements it.
type SpeechEvents interface {
	RecognizerStarted(kind assistant.RecognizerKind)
	RecognizerResult(kind assistant.RecognizerKind, transcript string)
	RecognizerError(kind assistant.RecognizerKind, code, message string)
	RecognizerEnded(kind assistant.RecognizerKind)
	UtteranceEnded(id string)
	UtteranceFailed(id, code string)
}

var _ SpeechEvents = (*assistant.Controller)(nil)

// DispatchSpeech routes a recognizer or speech event to target. It
// reports false for any other message type.
func DispatchSpeech(env Envelope, target SpeechEvents) bool {
	switch env.Type {
	case TypeRecognizerStarted, TypeRecognizerResult, TypeRecognizerError, TypeRecognizerEnded:
		var ev RecognizerEvent
		if err := env.Decode(&ev); err != nil {
			log.Warn().Err(err).Msg("Bad recognizer event")
			return true
		}
		kind := assistant.RecognizerKind(ev.Recognizer)
		if kind != assistant.Wake && kind != assistant.Chat {
			log.Warn().Str("recognizer", ev.Recognizer).Msg("Unknown recognizer")
			return true
		}
		switch env.Type {
		case TypeRecognizerStarted:
			target.RecognizerStarted(kind)
		case TypeRecognizerResult:
			target.RecognizerResult(kind, ev.Transcript)
		case TypeRecognizerError:
			target.RecognizerError(kind, ev.Code, ev.Message)
		case TypeRecognizerEnded:
			target.RecognizerEnded(kind)
		}
		return true

	case TypeSpeechEnded, TypeSpeechError:
		var ev SpeechEvent
		if err := env.Decode(&ev); err != nil {
			log.Warn().Err(err).Msg("Bad speech event")
			return true
		}
		if env.Type == TypeSpeechEnded {
			target.UtteranceEnded(ev.ID)
		} else {
			target.UtteranceFailed(ev.ID, ev.Code)
		}
		return true
	}
	return false
}
