package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lannapoly/tiewson-kiosk/internal/assistant"
	"github.com/lannapoly/tiewson-kiosk/internal/perception"
)

type recordingHandler struct {
	mu           sync.Mutex
	events       []Envelope
	connected    int
	disconnected chan int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{disconnected: make(chan int, 4)}
}

func (r *recordingHandler) HandleEvent(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *recordingHandler) ClientConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *recordingHandler) ClientDisconnected(remaining int) { r.disconnected <- remaining }

func (r *recordingHandler) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestHub(t *testing.T) (*Hub, *recordingHandler, string) {
	t.Helper()
	hub := NewHub()
	handler := newRecordingHandler()
	hub.Handle(handler)
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, handler, "ws" + strings.TrimPrefix(server.URL, "http")
}

// dial connects a fake page and waits until the hub registered it.
func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	before := hub.Clients()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() <= before {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestBroadcastReachesEveryPage(t *testing.T) {
	hub, _, url := newTestHub(t)
	a := dial(t, hub, url)
	b := dial(t, hub, url)

	if err := hub.Broadcast(TypeState, map[string]string{"mode": "carousel"}); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		if env.Type != TypeState || !strings.Contains(string(env.Payload), `"carousel"`) {
			t.Errorf("got %+v", env)
		}
	}
}

func TestSendWithoutPage(t *testing.T) {
	hub := NewHub()
	if err := hub.Send(TypeSpeechCancel, nil); !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
	if err := NewRecognizer(hub, assistant.Wake).Start(assistant.RecognizerOptions{Lang: "th-TH"}); !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient from recognizer, got %v", err)
	}
}

func TestEventsAndDisconnectReachHandler(t *testing.T) {
	hub, handler, url := newTestHub(t)
	conn := dial(t, hub, url)

	conn.WriteJSON(Envelope{Type: "ui.tap"})
	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	conn.WriteJSON(Envelope{Type: "ui.mic"})

	deadline := time.Now().Add(2 * time.Second)
	for len(handler.eventTypes()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := handler.eventTypes(); strings.Join(got, ",") != "ui.tap,ui.mic" {
		t.Fatalf("events = %v", got)
	}

	conn.Close()
	select {
	case remaining := <-handler.disconnected:
		if remaining != 0 {
			t.Errorf("remaining = %d", remaining)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestRecognizerAndSynthesizerCommands(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, hub, url)

	if err := NewRecognizer(hub, assistant.Chat).Start(assistant.RecognizerOptions{Lang: "ko-KR"}); err != nil {
		t.Fatal(err)
	}
	env := readEnvelope(t, conn)
	var cmd RecognizerCommand
	if err := env.Decode(&cmd); err != nil || env.Type != TypeRecognizerStart || cmd.Recognizer != "chat" || cmd.Lang != "ko-KR" || cmd.Continuous {
		t.Fatalf("got %+v %+v (%v)", env, cmd, err)
	}

	if err := NewSynthesizer(hub).Speak(assistant.Utterance{ID: "u1-0", Text: "hi", Lang: "en-US", Rate: 1.1}); err != nil {
		t.Fatal(err)
	}
	env = readEnvelope(t, conn)
	var u assistant.Utterance
	if err := env.Decode(&u); err != nil || env.Type != TypeSpeechSpeak || u.ID != "u1-0" || u.Rate != 1.1 {
		t.Fatalf("got %+v %+v (%v)", env, u, err)
	}
}

// fakePage answers camera requests the way the kiosk page does. Every
// received envelope is also forwarded to seen when it is non-nil.
func fakePage(t *testing.T, conn *websocket.Conn, deny bool, frame []byte, seen chan<- Envelope) {
	go func() {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if seen != nil {
				seen <- env
			}
			reply := Envelope{Type: TypeReply, ID: env.ID}
			switch env.Type {
			case TypeCameraOpen:
				if deny {
					reply.Error = &Fault{Code: "NotAllowedError", Message: "Permission denied"}
				}
			case TypeCameraCapture:
				reply.Payload, _ = json.Marshal(Frame{Image: frame})
			default:
				continue
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}()
}

func TestCameraCapture(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, hub, url)

	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	fakePage(t, conn, false, buf.Bytes(), nil)

	ctx := context.Background()
	stream, err := NewCamera(hub).Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := stream.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got.Bounds().Dx() != 8 || got.Bounds().Dy() != 6 {
		t.Errorf("bounds = %v", got.Bounds())
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCameraDenied(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, hub, url)
	fakePage(t, conn, true, nil, nil)

	_, err := NewCamera(hub).Open(context.Background())
	if !errors.Is(err, perception.ErrCameraAccessDenied) {
		t.Fatalf("expected ErrCameraAccessDenied, got %v", err)
	}
}

func TestCameraCommandsNameTheirSession(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, hub, url)
	seen := make(chan Envelope, 8)
	fakePage(t, conn, false, nil, seen)

	ctx := context.Background()
	first, err := NewCamera(hub).Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	open1 := <-seen
	second, err := NewCamera(hub).Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	open2 := <-seen
	if open1.ID == open2.ID {
		t.Fatalf("both opens share id %q", open1.ID)
	}

	// The earlier stream closes after the newer one opened.
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	env := <-seen
	var sess CameraSession
	if err := env.Decode(&sess); err != nil || env.Type != TypeCameraClose {
		t.Fatalf("got %+v (%v)", env, err)
	}
	if sess.Session != open1.ID {
		t.Errorf("close session = %q, want first open %q", sess.Session, open1.ID)
	}

	if err := second.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	env = <-seen
	if err := env.Decode(&sess); err != nil || sess.Session != open2.ID {
		t.Errorf("close session = %q, want second open %q (%v)", sess.Session, open2.ID, err)
	}
}

func TestRequestTimesOut(t *testing.T) {
	hub, _, url := newTestHub(t)
	dial(t, hub, url)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := hub.Request(ctx, TypeCameraCapture, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

type speechRecorder struct{ calls []string }

func (s *speechRecorder) RecognizerStarted(k assistant.RecognizerKind) {
	s.calls = append(s.calls, "started:"+string(k))
}
func (s *speechRecorder) RecognizerResult(k assistant.RecognizerKind, tr string) {
	s.calls = append(s.calls, "result:"+string(k)+":"+tr)
}
func (s *speechRecorder) RecognizerError(k assistant.RecognizerKind, code, _ string) {
	s.calls = append(s.calls, "error:"+string(k)+":"+code)
}
func (s *speechRecorder) RecognizerEnded(k assistant.RecognizerKind) {
	s.calls = append(s.calls, "ended:"+string(k))
}
func (s *speechRecorder) UtteranceEnded(id string) { s.calls = append(s.calls, "uend:"+id) }
func (s *speechRecorder) UtteranceFailed(id, code string) {
	s.calls = append(s.calls, "ufail:"+id+":"+code)
}

func TestDispatchSpeech(t *testing.T) {
	env := func(typ string, payload any) Envelope {
		raw, _ := json.Marshal(payload)
		return Envelope{Type: typ, Payload: raw}
	}
	rec := &speechRecorder{}
	inputs := []Envelope{
		env(TypeRecognizerStarted, RecognizerEvent{Recognizer: "wake"}),
		env(TypeRecognizerResult, RecognizerEvent{Recognizer: "chat", Transcript: "สาขา"}),
		env(TypeRecognizerError, RecognizerEvent{Recognizer: "wake", Code: "network"}),
		env(TypeRecognizerEnded, RecognizerEvent{Recognizer: "chat"}),
		env(TypeRecognizerEnded, RecognizerEvent{Recognizer: "other"}),
		env(TypeSpeechEnded, SpeechEvent{ID: "u1-0"}),
		env(TypeSpeechError, SpeechEvent{ID: "u1-1", Code: "interrupted"}),
	}
	for _, in := range inputs {
		if !DispatchSpeech(in, rec) {
			t.Errorf("%s not handled", in.Type)
		}
	}
	if DispatchSpeech(Envelope{Type: "ui.tap"}, rec) {
		t.Error("ui event claimed by speech dispatch")
	}
	want := "started:wake,result:chat:สาขา,error:wake:network,ended:chat,uend:u1-0,ufail:u1-1:interrupted"
	if got := strings.Join(rec.calls, ","); got != want {
		t.Errorf("calls = %s\nwant    %s", got, want)
	}
}
