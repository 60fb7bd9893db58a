// Package bridge connects the daemon to the fullscreen kiosk page over a
// WebSocket. The page renders what the daemon broadcasts and hosts the
// browser-only devices: camera, speech recognition and speech synthesis.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types sent to the page.
const (
	TypeState           = "state"
	TypeRecognizerStart = "recognizer.start"
	TypeRecognizerStop  = "recognizer.stop"
	TypeSpeechSpeak     = "speech.speak"
	TypeSpeechCancel    = "speech.cancel"
	TypeCameraOpen      = "camera.open"
	TypeCameraCapture   = "camera.capture"
	TypeCameraClose     = "camera.close"
)

// Message types sent by the page.
const (
	TypeRecognizerStarted = "recognizer.started"
	TypeRecognizerResult  = "recognizer.result"
	TypeRecognizerError   = "recognizer.error"
	TypeRecognizerEnded   = "recognizer.ended"
	TypeSpeechEnded       = "speech.ended"
	TypeSpeechError       = "speech.error"
	TypeReply             = "reply"
)

// ErrNoClient is returned when no kiosk page is connected.
var ErrNoClient = errors.New("no kiosk page connected")

// Envelope is every message on the socket. Replies to a request carry the
// request's ID and either a Payload or an Error.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *Fault          `json:"error,omitempty"`
}

// Fault is an error reported by the page.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Code
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

func newEnvelope(typ, id string, payload any) ([]byte, error) {
	env := Envelope{Type: typ, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// --- Payloads ---

// RecognizerCommand starts or stops one recognizer on the page.
type RecognizerCommand struct {
	Recognizer     string `json:"recognizer"`
	Lang           string `json:"lang,omitempty"`
	Continuous     bool   `json:"continuous,omitempty"`
	InterimResults bool   `json:"interimResults,omitempty"`
}

// RecognizerEvent is a lifecycle event of one recognizer.
type RecognizerEvent struct {
	Recognizer string `json:"recognizer"`
	Transcript string `json:"transcript,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// SpeechEvent reports the end or failure of an utterance.
type SpeechEvent struct {
	ID   string `json:"id"`
	Code string `json:"code,omitempty"`
}

// CameraSession names the camera stream a capture or close belongs to: the
// ID of the camera.open request that started it. The page ignores commands
// for a session it has already replaced.
type CameraSession struct {
	Session string `json:"session"`
}

// Frame is a captured camera frame.
type Frame struct {
	// Image is the encoded frame (JPEG, PNG or WebP), base64 in JSON.
	Image []byte `json:"image"`
}
