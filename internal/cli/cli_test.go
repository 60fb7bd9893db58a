package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/media"
)

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{12 * time.Minute, "12m"},
		{47 * time.Hour, "47h"},
		{5 * 24 * time.Hour, "5d"},
	}
	for _, tt := range tests {
		if got := FormatAge(now, now.Add(-tt.ago)); got != tt.want {
			t.Errorf("FormatAge(%v) = %s, want %s", tt.ago, got, tt.want)
		}
	}
}

func TestFormatAudience(t *testing.T) {
	tests := []struct {
		item content.Item
		want string
	}{
		{content.Item{}, "all"},
		{content.Item{TargetGender: content.TargetMale, TargetAgeMax: content.IntPtr(30)}, "male"},
		{content.Item{TargetGender: content.TargetFemale, TargetAgeMin: content.IntPtr(18)}, "female 18-100"},
		{content.Item{TargetAgeMin: content.IntPtr(13), TargetAgeMax: content.IntPtr(19)}, "all 13-19"},
	}
	for _, tt := range tests {
		if got := FormatAudience(tt.item); got != tt.want {
			t.Errorf("FormatAudience(%+v) = %s, want %s", tt.item, got, tt.want)
		}
	}
}

func TestWriteItems(t *testing.T) {
	now := time.Now()
	items := []content.Item{{
		ID:        "0190a1",
		Title:     locale.Text{locale.Thai: "ข่าว", locale.English: "News"},
		MediaType: media.KindVideo,
		CreatedAt: now.Add(-2 * time.Hour),
	}}
	var buf bytes.Buffer
	if err := WriteItems(&buf, items, locale.English, now); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("output:\n%s", buf.String())
	}
	for _, want := range []string{"0190a1", "2h", "video", "all", "News"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"yes", true},
		{"\n", false},
		{"n\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := Confirm(strings.NewReader(tt.input), &out, "Delete?"); got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Delete? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}
