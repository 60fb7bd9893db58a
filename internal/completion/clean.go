package completion

import (
	"strings"
)

// StripMarkdownFences removes ``` or ```lang wrapping from text. It returns
// the content between the fences, or the original text if there are none.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	startIdx := 1 // skip the opening ``` line
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.Join(lines[startIdx:endIdx], "\n")
}

var inlineMarkers = strings.NewReplacer("**", "", "__", "", "`", "")

// CleanReply turns a model reply into plain text suitable for the chat
// panel and the speech synthesizer: code fences, emphasis markers,
// headings and list bullets are removed and blank lines dropped.
func CleanReply(text string) string {
	text = inlineMarkers.Replace(StripMarkdownFences(text))

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		for _, bullet := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, bullet) {
				line = strings.TrimSpace(line[len(bullet):])
				break
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
