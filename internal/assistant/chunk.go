package assistant

import (
	"strings"
	"unicode"
)

// ChunkBudget is the longest utterance, in characters, handed to the
// synthesizer. Some engines silently stop on longer input.
const ChunkBudget = 200

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '\n':
		return true
	}
	return false
}

// sentences splits text after each run of sentence-ending punctuation.
// Text after the last terminator is kept as a final sentence.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		for i+1 < len(runes) && isSentenceEnd(runes[i+1]) {
			i++
		}
		out = append(out, string(runes[start:i+1]))
		start = i + 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// hardSplit cuts s into pieces of at most budget runes, preferring the
// last space inside each window.
func hardSplit(s string, budget int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > budget {
		cut := budget
		for j := budget; j > budget/2; j-- {
			if unicode.IsSpace(runes[j]) {
				cut = j
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(out, string(runes))
}

// SplitSpeech breaks text into utterances of at most budget characters,
// packing whole sentences together where they fit. Sentences longer than
// the budget are split on their own.
func SplitSpeech(text string, budget int) []string {
	if budget <= 0 {
		budget = ChunkBudget
	}
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		n = 0
	}

	for _, s := range sentences(text) {
		size := len([]rune(s))
		if n+size <= budget {
			cur.WriteString(s)
			n += size
			continue
		}
		flush()
		if size <= budget {
			cur.WriteString(s)
			n = size
			continue
		}
		pieces := hardSplit(s, budget)
		for _, p := range pieces[:len(pieces)-1] {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		last := pieces[len(pieces)-1]
		cur.WriteString(last)
		n = len([]rune(last))
	}
	flush()
	return out
}
