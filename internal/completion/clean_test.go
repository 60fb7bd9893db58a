package completion

import "testing"

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  สาขาเปิด 8 โมงค่ะ ", "สาขาเปิด 8 โมงค่ะ"},
		{"emphasis", "The **library** opens at `8:00`.", "The library opens at 8:00."},
		{"fenced", "```text\nLine one\n\nLine two\n```", "Line one\nLine two"},
		{"heading and bullets", "## Hours\n- Mon-Fri 8-17\n* Sat 9-12\n• Sun closed", "Hours\nMon-Fri 8-17\nSat 9-12\nSun closed"},
		{"unterminated fence", "```\nhello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanReply(tt.in); got != tt.want {
				t.Errorf("CleanReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
