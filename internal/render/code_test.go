package render

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/adamavenir/huddle/internal/types"
)

func TestSplitBody(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []segment
	}{
		{
			name: "prose only",
			body: "ship it\ntoday",
			want: []segment{{text: "ship it\ntoday"}},
		},
		{
			name: "fence between prose",
			body: "try this:\n```Go extra\nx := 1\n```\nthen retry",
			want: []segment{
				{text: "try this:"},
				{text: "x := 1", lang: "go", code: true},
				{text: "then retry"},
			},
		},
		{
			name: "tilde fence needs matching closer",
			body: "~~~~\na\n```\nb\n~~~~~",
			want: []segment{{text: "a\n```\nb", code: true}},
		},
		{
			name: "unterminated fence is prose",
			body: "```sh\nrm -rf build",
			want: []segment{{text: "```sh\nrm -rf build"}},
		},
		{
			name: "two backticks is not a fence",
			body: "``x``",
			want: []segment{{text: "``x``"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitBody(tc.body)
			if len(got) != len(tc.want) {
				t.Fatalf("segments: got %+v, want %+v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("segment %d: got %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestViewDrawsCodeInGutter(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	msg := types.Message{ID: "m1", Author: "alice", Body: "look:\n```go\nfmt.Println(\"hi\")\n```"}
	out := plain(Render(msg, maxCaps, Options{}))
	if strings.Contains(out, "```") {
		t.Fatalf("fence markers should not be drawn: %q", out)
	}
	if !strings.Contains(out, "▏ go\n▏ fmt.Println(\"hi\")") {
		t.Fatalf("expected language tag and code in gutter, got %q", out)
	}
}

func TestViewTruncatesCodeToWidth(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	long := strings.Repeat("x", 40)
	msg := types.Message{ID: "m1", Author: "alice", Body: "```\n" + long + "\n```"}
	out := ansi.Strip(Render(msg, maxCaps, Options{}).View(20))
	lines := strings.Split(out, "\n")
	last := lines[len(lines)-1]
	if ansi.StringWidth(last) != 20 {
		t.Fatalf("code line width: got %d (%q)", ansi.StringWidth(last), last)
	}
	if !strings.HasSuffix(last, "…") {
		t.Fatalf("expected truncation tail, got %q", last)
	}
	if strings.Count(out, "x") >= 40 {
		t.Fatalf("code line should be cut, not wrapped: %q", out)
	}
}

func TestHighlightKeepsText(t *testing.T) {
	code := "func main() {\n\treturn\n}"
	got := highlight(code, "go")
	if got == code {
		t.Fatalf("expected escape sequences in highlighted code")
	}
	if ansi.Strip(got) != code {
		t.Fatalf("highlighting changed the text: %q", ansi.Strip(got))
	}
	if highlight("   ", "go") != "   " {
		t.Fatalf("blank code should pass through")
	}
}
