package assistant

import (
	"strings"

	"github.com/lannapoly/tiewson-kiosk/internal/locale"
)

// WakeLanguage is the recognition tag of the wake listener. The wake
// phrases are Thai, so it does not follow the UI locale.
const WakeLanguage = "th-TH"

// WakePhrases are the transcripts that open the panel: the mascot's name
// with its common mis-transcriptions, plus an English token.
var WakePhrases = []string{
	"สวัสดีทิวสน",
	"สวัสดีคิวสน",
	"สวัสดีผิวสน",
	"ทิวสน",
	"tiewson",
}

// Voice parameters used for every utterance.
const (
	SpeechRate   = 1.1
	SpeechPitch  = 1.5
	SpeechVolume = 1.0
)

// KeywordReply is a canned reply chosen when the user's text contains
// Keyword.
type KeywordReply struct {
	Keyword string
	Reply   string
}

// Bundle is every locale-dependent string and tag the assistant uses.
// A Bundle is immutable; switching language swaps the whole value.
type Bundle struct {
	Locale            locale.Locale
	RecognitionTag    string
	SynthesisTag      string
	SystemInstruction string
	Greeting          string
	Fallbacks         []KeywordReply
	DefaultFallback   string
}

// Fallback returns the canned reply for text: the first keyword found in
// it, else the default.
func (b *Bundle) Fallback(text string) string {
	lower := strings.ToLower(text)
	for _, f := range b.Fallbacks {
		if strings.Contains(lower, strings.ToLower(f.Keyword)) {
			return f.Reply
		}
	}
	return b.DefaultFallback
}

var bundles = map[locale.Locale]*Bundle{
	locale.Thai: {
		Locale:            locale.Thai,
		SystemInstruction: `คุณคือ "น้องทิวสน" มาสคอตผู้หญิงของวิทยาลัยเทคโนโลยีโปลิเทคนิคลานนา ตอบเป็นภาษาไทยเท่านั้น สุภาพ เป็นกันเอง ตอบสั้นๆ 3-4 ประโยค`,
		Greeting:          "สวัสดีค่ะ! น้องทิวสนยินดีต้อนรับค่ะ มีอะไรให้ช่วยไหมคะ?",
		Fallbacks: []KeywordReply{
			{Keyword: "สาขา", Reply: "เรามีหลายสาขาค่ะ เช่น ช่างยนต์ คอมพิวเตอร์ บัญชี โรงแรม และท่องเที่ยว สนใจสาขาไหนคะ?"},
			{Keyword: "รับสมัคร", Reply: "เปิดรับสมัครช่วงมีนาคม-พฤษภาคมค่ะ สมัครได้ที่วิทยาลัยหรือออนไลน์ค่ะ"},
		},
		DefaultFallback: "น้องทิวสนพร้อมช่วยเหลือค่ะ ถามเรื่องสาขาหรือการสมัครเรียนได้เลยนะคะ",
	},
	locale.English: {
		Locale:            locale.English,
		SystemInstruction: `You are "Tiew Son", the female mascot of Lanna Polytechnic College. CRITICAL: You MUST answer in ENGLISH language only. Keep it friendly and concise (3-4 sentences).`,
		Greeting:          "Hello! I'm Tiew Son. How can I help you?",
		DefaultFallback:   "I'm here to help! Ask me about courses or admission.",
	},
	locale.Chinese: {
		Locale:            locale.Chinese,
		SystemInstruction: `你是"小松鼠"，兰纳理工学院的吉祥物。重要提示：你必须仅且只用"中文"回答。回答要友好且简洁（最多3-4句话）。`,
		Greeting:          "你好！我是小松鼠。我能帮你什么？",
		DefaultFallback:   "我在这里帮助你！问我关于课程或入学的问题。",
	},
	locale.Korean: {
		Locale:            locale.Korean,
		SystemInstruction: `당신은 "띠우손"입니다. 란나 폴리테크닉 대학의 마스코트입니다. 중요: 반드시 "한국어"로만 답변하십시오. 친근하고 간결하게 답변하세요 (최대 3-4문장).`,
		Greeting:          "안녕하세요! 띠우손입니다. 무엇을 도와드릴까요?",
		DefaultFallback:   "도와드리겠습니다! 과정이나 입학에 대해 물어보세요.",
	},
}

func init() {
	for l, b := range bundles {
		b.RecognitionTag = l.SpeechTag()
		b.SynthesisTag = l.SpeechTag()
	}
}

// BundleFor returns the bundle for l, or the default locale's bundle.
func BundleFor(l locale.Locale) *Bundle {
	if b, ok := bundles[l]; ok {
		return b
	}
	return bundles[locale.Default]
}

// MatchWake reports whether transcript contains one of phrases. Matching
// ignores case and whitespace, since recognizers split Thai words
// unpredictably.
func MatchWake(transcript string, phrases []string) bool {
	t := squash(transcript)
	if t == "" {
		return false
	}
	for _, p := range phrases {
		if p = squash(p); p != "" && strings.Contains(t, p) {
			return true
		}
	}
	return false
}

func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
