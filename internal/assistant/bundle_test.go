package assistant

import (
	"strings"
	"testing"

	"github.com/lannapoly/tiewson-kiosk/internal/locale"
)

func TestMatchWake(t *testing.T) {
	tests := []struct {
		transcript string
		want       bool
	}{
		{"สวัสดีทิวสน", true},
		{"สวัสดี ทิวสน ค่ะ", true},
		{"สวัสดีคิวสน", true},
		{"เอ่อ สวัสดีผิวสน", true},
		{"น้องทิวสนอยู่ไหม", true},
		{"Hey TiewSon", true},
		{"hey tiew son!", true},
		{"สวัสดีครับ", false},
		{"hello", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := MatchWake(tt.transcript, WakePhrases); got != tt.want {
			t.Errorf("MatchWake(%q) = %v, want %v", tt.transcript, got, tt.want)
		}
	}
}

func TestBundleForEveryLocale(t *testing.T) {
	for _, l := range locale.Supported {
		b := BundleFor(l)
		if b.Locale != l {
			t.Errorf("%s: bundle locale = %s", l, b.Locale)
		}
		if b.RecognitionTag != l.SpeechTag() || b.SynthesisTag != l.SpeechTag() {
			t.Errorf("%s: tags = %s/%s", l, b.RecognitionTag, b.SynthesisTag)
		}
		if b.SystemInstruction == "" || b.Greeting == "" || b.DefaultFallback == "" {
			t.Errorf("%s: incomplete bundle %+v", l, b)
		}
	}
	if BundleFor("xx") != BundleFor(locale.Default) {
		t.Error("unknown locale should use the default bundle")
	}
}

func TestBundleFallback(t *testing.T) {
	th := BundleFor(locale.Thai)
	tests := []struct {
		text, prefix string
	}{
		{"มีสาขาอะไรบ้างคะ", "เรามีหลายสาขาค่ะ"},
		{"รับสมัครเมื่อไหร่", "เปิดรับสมัคร"},
		{"ห้องน้ำอยู่ไหน", "น้องทิวสนพร้อมช่วยเหลือค่ะ"},
	}
	for _, tt := range tests {
		if got := th.Fallback(tt.text); !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("Fallback(%q) = %q", tt.text, got)
		}
	}
	if got := BundleFor(locale.Korean).Fallback("스사카"); got != BundleFor(locale.Korean).DefaultFallback {
		t.Errorf("ko fallback = %q", got)
	}
}

func TestRecognitionErrorBenign(t *testing.T) {
	for code, want := range map[string]bool{
		"no-speech":     true,
		"aborted":       true,
		"audio-capture": true,
		"network":       false,
		"not-allowed":   false,
	} {
		e := &RecognitionError{Kind: Wake, Code: code}
		if e.Benign() != want {
			t.Errorf("%s: Benign() = %v", code, !want)
		}
	}
	if got := (&RecognitionError{Kind: Chat, Code: "network", Message: "offline"}).Error(); got != "chat recognizer: network: offline" {
		t.Errorf("Error() = %q", got)
	}
}

func TestSplitSpeech(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		got := SplitSpeech("Hello! I'm Tiew Son.", ChunkBudget)
		if len(got) != 1 || got[0] != "Hello! I'm Tiew Son." {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("sentences are packed under the budget", func(t *testing.T) {
		text := "One two three. Four five six. Seven eight nine. Ten."
		got := SplitSpeech(text, 30)
		want := []string{"One two three. Four five six.", "Seven eight nine. Ten."}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("trailing text without terminator is kept", func(t *testing.T) {
		got := SplitSpeech("First sentence. and then some more", 20)
		if len(got) != 2 || got[1] != "and then some more" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("long sentence is hard split by characters", func(t *testing.T) {
		text := strings.Repeat("ทิวสน", 100)
		got := SplitSpeech(text, ChunkBudget)
		total := 0
		for _, c := range got {
			n := len([]rune(c))
			if n > ChunkBudget {
				t.Fatalf("chunk of %d chars", n)
			}
			total += n
		}
		if total != len([]rune(text)) {
			t.Errorf("lost characters: %d of %d", total, len([]rune(text)))
		}
	})

	t.Run("blank text has no chunks", func(t *testing.T) {
		if got := SplitSpeech("  \n ", ChunkBudget); len(got) != 0 {
			t.Fatalf("got %q", got)
		}
	})
}
